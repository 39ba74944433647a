package models

import (
	"fmt"
	"time"
)

// Payment представляет один взнос по графику кредита
type Payment struct {
	ID                   uint       `gorm:"primaryKey;autoIncrement"`
	LoanID               uint       `gorm:"column:loan_id;not null;index;uniqueIndex:ux_payments_loan_number"`
	PaymentNumber        int        `gorm:"column:payment_number;not null;uniqueIndex:ux_payments_loan_number"`
	DueDate              time.Time  `gorm:"column:due_date;not null"`
	DueAmount            int64      `gorm:"column:due_amount;not null"`
	InstallmentPrincipal int64      `gorm:"column:installment_principal;not null"`
	InstallmentInterest  int64      `gorm:"column:installment_interest;not null"`
	LateFeeAmount        int64      `gorm:"column:late_fee_amount;not null;default:0"`
	LateFeeAppliedCount  int        `gorm:"column:late_fee_applied_count;not null;default:0"`
	PaidAmount           int64      `gorm:"column:paid_amount;not null;default:0"`
	PaidPrincipal        int64      `gorm:"column:paid_principal;not null;default:0"`
	PaidInterest         int64      `gorm:"column:paid_interest;not null;default:0"`
	PaidLateFee          int64      `gorm:"column:paid_late_fee;not null;default:0"`
	PaidDate             *time.Time `gorm:"column:paid_date"`
	StatusCode           int        `gorm:"column:status_code;not null;index"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// TableName возвращает имя таблицы для модели Payment
func (Payment) TableName() string {
	return "payments"
}

// InstallmentTotal полная сумма взноса с учетом штрафов
func (p *Payment) InstallmentTotal() int64 {
	return p.InstallmentPrincipal + p.InstallmentInterest + p.LateFeeAmount
}

// RemainingPrincipal непогашенная часть основного долга
func (p *Payment) RemainingPrincipal() int64 {
	return p.InstallmentPrincipal - p.PaidPrincipal
}

// RemainingInterest непогашенные проценты
func (p *Payment) RemainingInterest() int64 {
	return p.InstallmentInterest - p.PaidInterest
}

// RemainingLateFee непогашенный штраф
func (p *Payment) RemainingLateFee() int64 {
	return p.LateFeeAmount - p.PaidLateFee
}

// CheckBalance проверяет инвариант due_amount == total - paid_amount
func (p *Payment) CheckBalance() error {
	if p.DueAmount < 0 {
		return fmt.Errorf("payment %d: negative due amount %d", p.ID, p.DueAmount)
	}
	if expected := p.InstallmentTotal() - p.PaidAmount; p.DueAmount != expected {
		return fmt.Errorf("payment %d: due amount %d, expected %d", p.ID, p.DueAmount, expected)
	}
	if p.PaidPrincipal+p.PaidInterest+p.PaidLateFee != p.PaidAmount {
		return fmt.Errorf("payment %d: paid components do not add up to %d", p.ID, p.PaidAmount)
	}
	if p.RemainingPrincipal() < 0 || p.RemainingInterest() < 0 || p.RemainingLateFee() < 0 {
		return fmt.Errorf("payment %d: component overpaid", p.ID)
	}
	return nil
}
