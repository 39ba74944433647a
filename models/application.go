package models

import (
	"time"
)

// Application заявка на кредит
type Application struct {
	ID                    uint      `gorm:"primaryKey;autoIncrement"`
	CustomerID            uint      `gorm:"column:customer_id;not null;index"`
	Customer              User      `gorm:"foreignKey:CustomerID"`
	ProductLine           string    `gorm:"column:product_line;size:50;not null"`
	LoanAmountRequested   int64     `gorm:"column:loan_amount_requested;not null"`
	LoanDurationRequested int       `gorm:"column:loan_duration_requested;not null"`
	MonthlyInterestRateBP int64     `gorm:"column:monthly_interest_rate_bp;not null"`
	StatusCode            int       `gorm:"column:status_code;not null;index"`
	CreatedAt             time.Time `gorm:"column:created_at"`
	UpdatedAt             time.Time `gorm:"column:updated_at"`
}

// TableName возвращает имя таблицы для модели Application
func (Application) TableName() string {
	return "applications"
}

// StatusHistory журнал смены статусов заявок, кредитов и платежей
type StatusHistory struct {
	ID        uint         `gorm:"primaryKey;autoIncrement"`
	Domain    StatusDomain `gorm:"column:domain;size:20;not null;index:ix_status_history_object"`
	ObjectID  uint         `gorm:"column:object_id;not null;index:ix_status_history_object"`
	StatusOld int          `gorm:"column:status_old;not null"`
	StatusNew int          `gorm:"column:status_new;not null"`
	Actor     Actor        `gorm:"column:actor;size:20;not null"`
	ChangedBy uint         `gorm:"column:changed_by"`
	Reason    string       `gorm:"column:reason;size:255"`
	CreatedAt time.Time    `gorm:"column:created_at"`
}

// TableName возвращает имя таблицы для модели StatusHistory
func (StatusHistory) TableName() string {
	return "status_histories"
}

// RefinancingRequest одобренная реструктуризация, ожидающая первого платежа
type RefinancingRequest struct {
	ID                 uint       `gorm:"primaryKey;autoIncrement"`
	LoanID             uint       `gorm:"column:loan_id;not null;index"`
	Status             string     `gorm:"column:status;size:20;not null"`
	PrerequisiteAmount int64      `gorm:"column:prerequisite_amount;not null"`
	ExpiresAt          time.Time  `gorm:"column:expires_at;not null"`
	ActivatedAt        *time.Time `gorm:"column:activated_at"`
	CreatedAt          time.Time  `gorm:"column:created_at"`
}

const (
	RefinancingApproved  = "approved"
	RefinancingActivated = "activated"
	RefinancingExpired   = "expired"
)

// TableName возвращает имя таблицы для модели RefinancingRequest
func (RefinancingRequest) TableName() string {
	return "refinancing_requests"
}
