package services

import (
	"errors"
	"fmt"
	"gorm.io/gorm"
	"loanservicing/models"
	"loanservicing/utils"
	"time"
)

// LoanStatusService пересчитывает статус кредита по его платежам
type LoanStatusService struct {
	validator *TransitionValidator
	config    ConfigProvider
}

// NewLoanStatusService создает новый экземпляр LoanStatusService
func NewLoanStatusService(validator *TransitionValidator, config ConfigProvider) *LoanStatusService {
	return &LoanStatusService{validator: validator, config: config}
}

// Location часовой пояс, в котором считаются даты платежей
func (s *LoanStatusService) Location() *time.Location {
	return s.config.Location()
}

// TargetStatus статус кредита, который следует из состояния платежей:
// все погашены - paid off, иначе корзина просрочки самого старого непогашенного.
func TargetStatus(payments []models.Payment, now time.Time, loc *time.Location) int {
	var oldest *models.Payment
	for i := range payments {
		p := &payments[i]
		if p.DueAmount == 0 {
			continue
		}
		if oldest == nil || p.PaymentNumber < oldest.PaymentNumber {
			oldest = p
		}
	}
	if oldest == nil {
		return models.LoanPaidOff
	}

	dpd := daysBetween(oldest.DueDate, now, loc)
	if dpd <= 0 {
		return models.LoanCurrent
	}
	return loanDPDStatuses[dpdBucket(dpd)]
}

// Recompute переводит кредит в статус, вычисленный по платежам.
// Реструктурированный кредит может перейти только в paid off.
func (s *LoanStatusService) Recompute(tx *gorm.DB, loanID uint, now time.Time) error {
	var loan models.Loan
	if err := tx.Preload("Payments").First(&loan, loanID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLoanNotFound
		}
		return err
	}

	switch loan.StatusCode {
	case models.LoanInactive, models.LoanSoldOff:
		return nil
	}

	target := TargetStatus(loan.Payments, now, s.Location())
	if loan.StatusCode == models.LoanRenegotiated && target != models.LoanPaidOff {
		return nil
	}
	if target == loan.StatusCode {
		return nil
	}

	return s.ChangeStatus(tx, &loan, target, models.ActorSystem, 0, "")
}

// ChangeStatus переводит кредит в новый статус через таблицу переходов
func (s *LoanStatusService) ChangeStatus(tx *gorm.DB, loan *models.Loan, destination int, actor models.Actor, changedBy uint, reason string) error {
	if _, err := s.validator.Validate(WorkflowLoan, loan.StatusCode, destination, actor); err != nil {
		return err
	}

	old := loan.StatusCode
	if err := tx.Model(&models.Loan{}).Where("id = ?", loan.ID).Update("status_code", destination).Error; err != nil {
		return fmt.Errorf("ошибка при обновлении статуса кредита: %v", err)
	}
	loan.StatusCode = destination

	if err := recordStatusChange(tx, models.DomainLoan, loan.ID, old, destination, actor, changedBy, reason); err != nil {
		return err
	}
	utils.LogInfo("Кредит %d: статус %d -> %d (%s)", loan.ID, old, destination, actor)
	return nil
}
