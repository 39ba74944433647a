package models

import (
	"time"
)

// Loan представляет выданный кредит
type Loan struct {
	ID                    uint      `gorm:"primaryKey;autoIncrement"`
	ApplicationID         uint      `gorm:"column:application_id;not null;uniqueIndex"`
	CustomerID            uint      `gorm:"column:customer_id;not null;index"`
	ProductLine           string    `gorm:"column:product_line;size:50;not null"`
	LoanAmount            int64     `gorm:"column:loan_amount;not null"`
	LoanDuration          int       `gorm:"column:loan_duration;not null"`
	MonthlyInterestRateBP int64     `gorm:"column:monthly_interest_rate_bp;not null"`
	StatusCode            int       `gorm:"column:status_code;not null;index"`
	DisbursedAt           time.Time `gorm:"column:disbursed_at;not null"`
	Payments              []Payment `gorm:"foreignKey:LoanID"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// TableName возвращает имя таблицы для модели Loan
func (Loan) TableName() string {
	return "loans"
}
