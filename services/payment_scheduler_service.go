package services

import (
	"context"
	"errors"
	"gorm.io/gorm"
	"loanservicing/models"
	"loanservicing/utils"
	"time"
)

// PaymentSchedulerService предоставляет методы для автоматической обработки платежей
type PaymentSchedulerService struct {
	db          *gorm.DB
	ledger      *PaymentLedger
	loans       *LoanStatusService
	refinancing *RefinancingService
	config      ConfigProvider
	dispatcher  Dispatcher
}

// SchedulerReport итог одного прохода планировщика
type SchedulerReport struct {
	Processed int
	Changed   int
	Skipped   int
	Failed    int
}

// NewPaymentSchedulerService создает новый экземпляр PaymentSchedulerService
func NewPaymentSchedulerService(db *gorm.DB, ledger *PaymentLedger, loans *LoanStatusService, refinancing *RefinancingService, config ConfigProvider, dispatcher Dispatcher) *PaymentSchedulerService {
	return &PaymentSchedulerService{
		db:          db,
		ledger:      ledger,
		loans:       loans,
		refinancing: refinancing,
		config:      config,
		dispatcher:  dispatcher,
	}
}

// Start запускает планировщик платежей до отмены ctx
func (s *PaymentSchedulerService) Start(ctx context.Context, statusInterval, lateFeeInterval time.Duration) {
	// Пересчет статусов и истечение реструктуризаций
	statusTicker := time.NewTicker(statusInterval)
	go func() {
		defer statusTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-statusTicker.C:
				now := time.Now()
				if _, err := s.RefreshStatuses(ctx, now); err != nil {
					utils.LogError("Ошибка при пересчете статусов платежей: %v", err)
				}
				if expired, err := s.refinancing.ExpireRequests(ctx, now); err != nil {
					utils.LogError("Ошибка при обработке реструктуризаций: %v", err)
				} else if expired > 0 {
					utils.LogInfo("Истекло реструктуризаций: %d", expired)
				}
			}
		}
	}()

	// Начисление штрафов по графику просрочки
	lateFeeTicker := time.NewTicker(lateFeeInterval)
	go func() {
		defer lateFeeTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-lateFeeTicker.C:
				if _, err := s.ApplyDueLateFees(ctx, time.Now()); err != nil {
					utils.LogError("Ошибка при начислении штрафов: %v", err)
				}
			}
		}
	}()
}

// unsettledPayments возвращает идентификаторы непогашенных платежей активных кредитов
func (s *PaymentSchedulerService) unsettledPayments(ctx context.Context) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.WithContext(ctx).
		Select("payments.id, payments.loan_id").
		Joins("JOIN loans ON loans.id = payments.loan_id").
		Where("payments.due_amount > 0 AND loans.status_code NOT IN ?", []int{models.LoanInactive, models.LoanSoldOff}).
		Order("payments.loan_id ASC, payments.payment_number ASC").
		Find(&payments).Error
	return payments, err
}

// RefreshStatuses пересчитывает статус каждого непогашенного платежа.
// Каждый платеж обрабатывается в отдельной транзакции.
func (s *PaymentSchedulerService) RefreshStatuses(ctx context.Context, now time.Time) (*SchedulerReport, error) {
	startTime := time.Now()
	payments, err := s.unsettledPayments(ctx)
	if err != nil {
		return nil, err
	}

	report := &SchedulerReport{}
	for _, ref := range payments {
		report.Processed++
		var changed bool
		var loanBefore, loanAfter models.Loan

		err := ledgerTransaction(ctx, s.db, func(tx *gorm.DB) error {
			loan, err := lockLoan(tx, ref.LoanID)
			if err != nil {
				return err
			}
			loanBefore = *loan

			p, err := lockPayment(tx, ref.ID)
			if err != nil {
				return err
			}
			before := p.StatusCode
			if err := s.ledger.RefreshStatus(tx, p, now); err != nil {
				return err
			}
			changed = p.StatusCode != before

			if err := s.loans.Recompute(tx, loan.ID, now); err != nil {
				return err
			}
			return tx.First(&loanAfter, loan.ID).Error
		})
		if err != nil {
			report.Failed++
			utils.LogError("Платеж %d: ошибка пересчета статуса: %v", ref.ID, err)
			continue
		}
		if changed {
			report.Changed++
		}
		s.notifyLoanStatus(loanBefore, loanAfter)
	}

	utils.LogOperation("scheduler.refresh_statuses", startTime, nil)
	return report, nil
}

// LateFeeDue сумма очередного штрафа, если просрочка достигла следующей точки графика
func LateFeeDue(p *models.Payment, now time.Time, config ConfigProvider) (int64, bool) {
	if p.DueAmount == 0 {
		return 0, false
	}
	schedule := config.LateFeeDPDSchedule()
	if p.LateFeeAppliedCount >= len(schedule) {
		return 0, false
	}
	if daysBetween(p.DueDate, now, config.Location()) < schedule[p.LateFeeAppliedCount] {
		return 0, false
	}

	amount := (p.InstallmentPrincipal + p.InstallmentInterest) * config.LateFeePercent() / 100
	if amount <= 0 {
		return 0, false
	}
	return amount, true
}

// ApplyDueLateFees начисляет штрафы по графику просрочки.
// Отказ по лимиту штрафов пропускается с записью в лог.
func (s *PaymentSchedulerService) ApplyDueLateFees(ctx context.Context, now time.Time) (*SchedulerReport, error) {
	startTime := time.Now()
	payments, err := s.unsettledPayments(ctx)
	if err != nil {
		return nil, err
	}

	report := &SchedulerReport{}
	for _, ref := range payments {
		report.Processed++
		var charged bool

		err := ledgerTransaction(ctx, s.db, func(tx *gorm.DB) error {
			if _, err := lockLoan(tx, ref.LoanID); err != nil {
				return err
			}
			p, err := lockPayment(tx, ref.ID)
			if err != nil {
				return err
			}

			amount, due := LateFeeDue(p, now, s.config)
			if !due {
				return nil
			}
			if _, err := s.ledger.ApplyLateFee(tx, p, amount, now); err != nil {
				return err
			}
			charged = true
			return nil
		})
		switch {
		case errors.Is(err, ErrMaxLateFeeExceeded):
			report.Skipped++
			utils.LogWarn("Платеж %d: штраф не начислен: %v", ref.ID, err)
		case err != nil:
			report.Failed++
			utils.LogError("Платеж %d: ошибка начисления штрафа: %v", ref.ID, err)
		case charged:
			report.Changed++
		}
	}

	utils.LogOperation("scheduler.apply_late_fees", startTime, nil)
	return report, nil
}

func (s *PaymentSchedulerService) notifyLoanStatus(before, after models.Loan) {
	if s.dispatcher == nil || before.StatusCode == after.StatusCode {
		return
	}
	s.dispatcher.Dispatch(NewMessage(MessageStatusChanged, StatusChangedPayload{
		Domain:     models.DomainLoan,
		ObjectID:   after.ID,
		CustomerID: after.CustomerID,
		StatusOld:  before.StatusCode,
		StatusNew:  after.StatusCode,
	}))
}
