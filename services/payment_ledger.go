package services

import (
	"errors"
	"fmt"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"loanservicing/models"
	"loanservicing/utils"
	"time"
)

// ConfigProvider источник настраиваемых порогов для ядра журнала
type ConfigProvider interface {
	GracePeriodDays() int
	LateFeeCapPercent(productLine string) int64
	LateFeePercent() int64
	LateFeeDPDSchedule() []int
	WaiverValidityMaxDays() int
	Location() *time.Location
}

// LateFeeCap проверяет лимит штрафов по кредиту
type LateFeeCap interface {
	Check(tx *gorm.DB, payment *models.Payment, amount int64) error
}

// LoanStatusUpdater пересчитывает статус кредита после изменения платежа
type LoanStatusUpdater interface {
	Recompute(tx *gorm.DB, loanID uint, now time.Time) error
}

// LoanLateFeeCap ограничивает сумму штрафов процентом от суммы кредита
type LoanLateFeeCap struct {
	config ConfigProvider
}

// NewLoanLateFeeCap создает новый экземпляр LoanLateFeeCap
func NewLoanLateFeeCap(config ConfigProvider) *LoanLateFeeCap {
	return &LoanLateFeeCap{config: config}
}

// Check возвращает ErrMaxLateFeeExceeded, если новый штраф превысит лимит
func (c *LoanLateFeeCap) Check(tx *gorm.DB, payment *models.Payment, amount int64) error {
	var loan models.Loan
	if err := tx.First(&loan, payment.LoanID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLoanNotFound
		}
		return err
	}

	var charged int64
	if err := tx.Model(&models.Payment{}).
		Where("loan_id = ?", loan.ID).
		Select("COALESCE(SUM(late_fee_amount), 0)").
		Scan(&charged).Error; err != nil {
		return fmt.Errorf("ошибка при подсчете штрафов: %v", err)
	}

	limit := loan.LoanAmount * c.config.LateFeeCapPercent(loan.ProductLine) / 100
	if charged+amount > limit {
		return fmt.Errorf("%w: %d + %d > %d", ErrMaxLateFeeExceeded, charged, amount, limit)
	}
	return nil
}

// PaymentLedger вычисляет статус платежа и проводит начисление штрафов
type PaymentLedger struct {
	validator *TransitionValidator
	config    ConfigProvider
	cap       LateFeeCap
	loans     LoanStatusUpdater
	metrics   *utils.LedgerMetrics
	now       func() time.Time
}

// NewPaymentLedger создает новый экземпляр PaymentLedger
func NewPaymentLedger(validator *TransitionValidator, config ConfigProvider, feeCap LateFeeCap, loans LoanStatusUpdater, metrics *utils.LedgerMetrics) *PaymentLedger {
	return &PaymentLedger{
		validator: validator,
		config:    config,
		cap:       feeCap,
		loans:     loans,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Location часовой пояс календарных дат журнала
func (l *PaymentLedger) Location() *time.Location {
	return l.config.Location()
}

// DeriveStatus вычисляет статус платежа на момент now
func (l *PaymentLedger) DeriveStatus(p *models.Payment, now time.Time) int {
	if p.DueAmount == 0 {
		paidAt := now
		if p.PaidDate != nil {
			paidAt = *p.PaidDate
		}
		late := daysBetween(p.DueDate, paidAt, l.config.Location())
		switch {
		case late <= 0:
			return models.PaymentPaidOnTime
		case late <= l.config.GracePeriodDays():
			return models.PaymentPaidWithinGrace
		default:
			return models.PaymentPaidLate
		}
	}

	untilDue := daysBetween(now, p.DueDate, l.config.Location())
	switch {
	case untilDue > 3:
		return models.PaymentNotDue
	case untilDue > 0:
		return models.PaymentDueIn3Days
	case untilDue == 0:
		return models.PaymentDueToday
	}

	return paymentDPDStatuses[dpdBucket(-untilDue)]
}

// Границы корзин просрочки в днях: 1, 5, 30, 60, 90, 120, 150, 180
var dpdThresholds = [...]int{5, 30, 60, 90, 120, 150, 180}

var paymentDPDStatuses = [...]int{
	models.Payment1DPD, models.Payment5DPD, models.Payment30DPD, models.Payment60DPD,
	models.Payment90DPD, models.Payment120DPD, models.Payment150DPD, models.Payment180DPD,
}

var loanDPDStatuses = [...]int{
	models.Loan1DPD, models.Loan5DPD, models.Loan30DPD, models.Loan60DPD,
	models.Loan90DPD, models.Loan120DPD, models.Loan150DPD, models.Loan180DPD,
}

// dpdBucket индекс корзины для положительного числа дней просрочки
func dpdBucket(dpd int) int {
	for i, threshold := range dpdThresholds {
		if dpd < threshold {
			return i
		}
	}
	return len(dpdThresholds)
}

// RefreshStatus переводит платеж в вычисленный статус через таблицу переходов
func (l *PaymentLedger) RefreshStatus(tx *gorm.DB, p *models.Payment, now time.Time) error {
	next := l.DeriveStatus(p, now)
	if next == p.StatusCode {
		return nil
	}

	if _, err := l.validator.Validate(WorkflowPayment, p.StatusCode, next, models.ActorSystem); err != nil {
		return err
	}

	old := p.StatusCode
	if err := tx.Model(p).Update("status_code", next).Error; err != nil {
		return fmt.Errorf("ошибка при обновлении статуса платежа: %v", err)
	}
	p.StatusCode = next

	return recordStatusChange(tx, models.DomainPayment, p.ID, old, next, models.ActorSystem, 0, "")
}

// ApplyLateFee начисляет штраф по платежу
func (l *PaymentLedger) ApplyLateFee(tx *gorm.DB, p *models.Payment, amount int64, eventDate time.Time) (*models.PaymentEvent, error) {
	return l.applyLateFee(tx, p, amount, eventDate, EventMeta{})
}

func (l *PaymentLedger) applyLateFee(tx *gorm.DB, p *models.Payment, amount int64, eventDate time.Time, meta EventMeta) (*models.PaymentEvent, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := l.cap.Check(tx, p, amount); err != nil {
		if errors.Is(err, ErrMaxLateFeeExceeded) {
			l.metrics.RecordLateFeeRejected()
		}
		return nil, err
	}
	return l.appendEvent(tx, p, KindLateFee, amount, eventDate, meta)
}

// EventMeta дополнительные данные события
type EventMeta struct {
	PaymentMethodID *uint
	Metadata        map[string]interface{}
}

// appendEvent применяет событие к платежу и записывает его в журнал
func (l *PaymentLedger) appendEvent(tx *gorm.DB, p *models.Payment, kind EventKind, amount int64, eventDate time.Time, meta EventMeta) (*models.PaymentEvent, error) {
	spec := kind.spec()
	dueBefore := p.DueAmount

	alloc, err := spec.apply(p, amount)
	if err != nil {
		return nil, err
	}

	signed := amount
	if spec.charge {
		signed = -amount
	}
	if spec.reversible {
		paidDate := eventDate
		p.PaidDate = &paidDate
	}

	event := &models.PaymentEvent{
		PaymentID:          p.ID,
		EventType:          spec.eventType,
		EventPayment:       signed,
		EventDueAmount:     dueBefore,
		EventDate:          eventDate,
		CanReverse:         spec.reversible,
		AllocatedPrincipal: alloc.Principal,
		AllocatedInterest:  alloc.Interest,
		AllocatedLateFee:   alloc.LateFee,
		PaymentMethodID:    meta.PaymentMethodID,
	}
	if len(meta.Metadata) > 0 {
		event.Metadata = datatypes.JSONMap(meta.Metadata)
	}

	if err := tx.Create(event).Error; err != nil {
		return nil, fmt.Errorf("ошибка при записи события: %v", err)
	}

	if err := l.afterMutation(tx, p); err != nil {
		return nil, err
	}

	l.metrics.RecordEvent(spec.eventType)
	return event, nil
}

// afterMutation проверяет баланс, сохраняет платеж и пересчитывает статусы
func (l *PaymentLedger) afterMutation(tx *gorm.DB, p *models.Payment) error {
	if err := p.CheckBalance(); err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerInvariant, err)
	}

	if err := tx.Save(p).Error; err != nil {
		return fmt.Errorf("ошибка при сохранении платежа: %v", err)
	}

	now := l.now()
	if err := l.RefreshStatus(tx, p, now); err != nil {
		return err
	}
	if l.loans != nil {
		if err := l.loans.Recompute(tx, p.LoanID, now); err != nil {
			return err
		}
	}
	return nil
}

// lockPayment перечитывает платеж под блокировкой строки
func lockPayment(tx *gorm.DB, id uint) (*models.Payment, error) {
	var p models.Payment
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

// lockLoan перечитывает кредит под блокировкой строки
func lockLoan(tx *gorm.DB, id uint) (*models.Loan, error) {
	var loan models.Loan
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&loan, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLoanNotFound
		}
		return nil, err
	}
	return &loan, nil
}

// calendarDate полночь календарного дня момента t в часовом поясе loc
func calendarDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// daysBetween количество календарных дней от from до to в часовом поясе loc
func daysBetween(from, to time.Time, loc *time.Location) int {
	fy, fm, fd := calendarDate(from, loc).Date()
	ty, tm, td := calendarDate(to, loc).Date()
	diff := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC).Sub(time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC))
	return int(diff.Hours() / 24)
}
