package models

import (
	"time"

	"gorm.io/datatypes"
)

// PaymentEvent неизменяемая запись журнала движения денег по платежу
type PaymentEvent struct {
	ID                 uint              `gorm:"primaryKey;autoIncrement" json:"id"`
	PaymentID          uint              `gorm:"column:payment_id;not null;index" json:"payment_id"`
	EventType          string            `gorm:"column:event_type;size:40;not null" json:"event_type"`
	EventPayment       int64             `gorm:"column:event_payment;not null" json:"event_payment"`
	EventDueAmount     int64             `gorm:"column:event_due_amount;not null" json:"event_due_amount"`
	EventDate          time.Time         `gorm:"column:event_date;not null" json:"event_date"`
	CanReverse         bool              `gorm:"column:can_reverse;not null;default:false" json:"can_reverse"`
	ReversalEventID    *uint             `gorm:"column:reversal_event_id;uniqueIndex" json:"reversal_event_id,omitempty"`
	AllocatedPrincipal int64             `gorm:"column:allocated_principal;not null;default:0" json:"allocated_principal"`
	AllocatedInterest  int64             `gorm:"column:allocated_interest;not null;default:0" json:"allocated_interest"`
	AllocatedLateFee   int64             `gorm:"column:allocated_late_fee;not null;default:0" json:"allocated_late_fee"`
	PaymentMethodID    *uint             `gorm:"column:payment_method_id" json:"payment_method_id,omitempty"`
	Metadata           datatypes.JSONMap `gorm:"column:metadata" json:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
}

// TableName возвращает имя таблицы для модели PaymentEvent
func (PaymentEvent) TableName() string {
	return "payment_events"
}

// PaymentMethod способ оплаты, привязанный к кредиту
type PaymentMethod struct {
	ID             uint      `gorm:"primaryKey;autoIncrement"`
	LoanID         uint      `gorm:"column:loan_id;not null;index"`
	Name           string    `gorm:"column:name;size:50;not null"`
	VirtualAccount string    `gorm:"column:virtual_account;size:50"`
	IsActive       bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

// TableName возвращает имя таблицы для модели PaymentMethod
func (PaymentMethod) TableName() string {
	return "payment_methods"
}
