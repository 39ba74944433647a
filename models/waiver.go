package models

import (
	"time"
)

// WaiverComponent компонента долга, которую прощают
type WaiverComponent string

const (
	ComponentLateFee   WaiverComponent = "late_fee"
	ComponentInterest  WaiverComponent = "interest"
	ComponentPrincipal WaiverComponent = "principal"
)

// WaiverVariant вариант прощения
type WaiverVariant string

const (
	VariantPaid   WaiverVariant = "paid"
	VariantUnpaid WaiverVariant = "unpaid"
)

// WaiverRecord одобренное прощение долга
type WaiverRecord struct {
	ID                uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	LoanID            uint            `gorm:"column:loan_id;not null;index" json:"loan_id"`
	PaymentID         uint            `gorm:"column:payment_id;not null;index" json:"payment_id"`
	Component         WaiverComponent `gorm:"column:component;size:20;not null" json:"component"`
	Variant           WaiverVariant   `gorm:"column:variant;size:10;not null" json:"variant"`
	Amount            int64           `gorm:"column:amount;not null" json:"amount"`
	AppliedAmount     int64           `gorm:"column:applied_amount;not null;default:0" json:"applied_amount"`
	FromPaymentNumber int             `gorm:"column:from_payment_number;not null" json:"from_payment_number"`
	MaxPaymentNumber  int             `gorm:"column:max_payment_number;not null" json:"max_payment_number"`
	ValidityDate      *time.Time      `gorm:"column:validity_date" json:"validity_date,omitempty"`
	ApproverRole      Role            `gorm:"column:approver_role;size:40;not null" json:"approver_role"`
	ApprovedBy        uint            `gorm:"column:approved_by" json:"approved_by"`
	Note              string          `gorm:"column:note;size:255" json:"note"`
	CreatedAt         time.Time       `json:"created_at"`
}

// TableName возвращает имя таблицы для модели WaiverRecord
func (WaiverRecord) TableName() string {
	return "waiver_records"
}

// Unapplied часть прощения, еще не проведенная по платежам
func (w *WaiverRecord) Unapplied() int64 {
	return w.Amount - w.AppliedAmount
}

// Covers проверяет, что запись покрывает платеж с данным номером
func (w *WaiverRecord) Covers(paymentNumber int) bool {
	return paymentNumber >= w.FromPaymentNumber && paymentNumber <= w.MaxPaymentNumber
}
