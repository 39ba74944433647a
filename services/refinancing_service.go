package services

import (
	"context"
	"errors"
	"fmt"
	"gorm.io/gorm"
	"loanservicing/models"
	"time"
)

// RefinancingService активирует одобренную реструктуризацию вместо обычного платежа
type RefinancingService struct {
	db    *gorm.DB
	loans *LoanStatusService
	now   func() time.Time
}

// NewRefinancingService создает новый экземпляр RefinancingService
func NewRefinancingService(db *gorm.DB, loans *LoanStatusService) *RefinancingService {
	return &RefinancingService{db: db, loans: loans, now: time.Now}
}

// ParseDate разбирает дату DD-MM-YYYY в часовом поясе журнала
func (s *RefinancingService) ParseDate(value string) (time.Time, error) {
	return ParsePaidDate(value, s.loans.Location())
}

// Approve регистрирует одобренную реструктуризацию кредита
func (s *RefinancingService) Approve(ctx context.Context, loanID uint, prerequisiteAmount int64, expiresAt time.Time) (*models.RefinancingRequest, error) {
	if prerequisiteAmount <= 0 {
		return nil, ErrInvalidAmount
	}

	var loan models.Loan
	if err := s.db.WithContext(ctx).First(&loan, loanID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLoanNotFound
		}
		return nil, err
	}

	request := &models.RefinancingRequest{
		LoanID:             loan.ID,
		Status:             models.RefinancingApproved,
		PrerequisiteAmount: prerequisiteAmount,
		ExpiresAt:          expiresAt,
	}
	if err := s.db.WithContext(ctx).Create(request).Error; err != nil {
		return nil, fmt.Errorf("ошибка при сохранении реструктуризации: %v", err)
	}
	return request, nil
}

// TryActivate активирует реструктуризацию, если входящий платеж покрывает
// первоначальный взнос. Возвращает true, если обычное событие проводить не нужно.
func (s *RefinancingService) TryActivate(tx *gorm.DB, loan *models.Loan, amount int64, paidDate time.Time) (bool, error) {
	if loan.StatusCode == models.LoanRenegotiated {
		return false, nil
	}

	var requests []models.RefinancingRequest
	if err := tx.Where("loan_id = ? AND status = ? AND expires_at >= ?", loan.ID, models.RefinancingApproved, calendarDate(paidDate, s.loans.Location())).
		Order("id DESC").
		Limit(1).
		Find(&requests).Error; err != nil {
		return false, fmt.Errorf("ошибка при поиске реструктуризации: %v", err)
	}
	if len(requests) == 0 || amount < requests[0].PrerequisiteAmount {
		return false, nil
	}

	request := requests[0]
	if err := s.loans.ChangeStatus(tx, loan, models.LoanRenegotiated, models.ActorSystem, 0, "refinancing activated"); err != nil {
		return false, err
	}

	activatedAt := s.now()
	if err := tx.Model(&request).Updates(map[string]interface{}{
		"status":       models.RefinancingActivated,
		"activated_at": activatedAt,
	}).Error; err != nil {
		return false, fmt.Errorf("ошибка при активации реструктуризации: %v", err)
	}
	return true, nil
}

// ExpireRequests помечает просроченные одобрения
func (s *RefinancingService) ExpireRequests(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&models.RefinancingRequest{}).
		Where("status = ? AND expires_at < ?", models.RefinancingApproved, calendarDate(now, s.loans.Location())).
		Update("status", models.RefinancingExpired)
	if result.Error != nil {
		return 0, fmt.Errorf("ошибка при обновлении реструктуризаций: %v", result.Error)
	}
	return result.RowsAffected, nil
}
