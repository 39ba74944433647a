package services

import (
	"errors"
	"fmt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"loanservicing/models"
	"loanservicing/utils"
	"sort"
	"time"
)

// WaiverRequest запрос на прощение части долга
type WaiverRequest struct {
	PaymentID        uint                   `json:"-"`
	Component        models.WaiverComponent `json:"component" validate:"required,oneof=late_fee interest principal"`
	Variant          models.WaiverVariant   `json:"variant" validate:"required,oneof=paid unpaid"`
	Amount           int64                  `json:"amount"`
	Note             string                 `json:"note" validate:"max=255"`
	ValidityDate     *time.Time             `json:"validity_date,omitempty"`
	MaxPaymentNumber *int                   `json:"max_payment_number,omitempty"`
	ApproverRole     models.Role            `json:"-"`
	ApprovedBy       uint                   `json:"-"`
}

// WaiverResult результат одобренного прощения
type WaiverResult struct {
	Record *models.WaiverRecord `json:"record"`
	Event  *models.PaymentEvent `json:"event,omitempty"`
}

// WaiverEngine считает остатки и проводит прощение долга
type WaiverEngine struct {
	recorder *PaymentEventRecorder
	config   ConfigProvider
	metrics  *utils.LedgerMetrics
	now      func() time.Time
}

// NewWaiverEngine создает новый экземпляр WaiverEngine
func NewWaiverEngine(recorder *PaymentEventRecorder, config ConfigProvider, metrics *utils.LedgerMetrics) *WaiverEngine {
	return &WaiverEngine{
		recorder: recorder,
		config:   config,
		metrics:  metrics,
		now:      time.Now,
	}
}

// ComputeRemaining возвращает остаток компоненты, который еще можно простить.
// Для unpaid суммируются платежи с номера p до maxPaymentNumber,
// для paid учитывается только сам платеж. Выданные и не проведенные
// прощения вычитаются в пределах долга платежей, которые они покрывают.
func (e *WaiverEngine) ComputeRemaining(tx *gorm.DB, p *models.Payment, component models.WaiverComponent, isUnpaid bool, maxPaymentNumber *int) (int64, error) {
	from, to := p.PaymentNumber, p.PaymentNumber
	if isUnpaid && maxPaymentNumber != nil {
		to = *maxPaymentNumber
	}

	outstanding := map[int]int64{p.PaymentNumber: componentOutstanding(p, component)}
	if to > from {
		var payments []models.Payment
		if err := tx.Where("loan_id = ? AND payment_number BETWEEN ? AND ?", p.LoanID, from, to).
			Find(&payments).Error; err != nil {
			return 0, fmt.Errorf("ошибка при получении платежей: %v", err)
		}
		for i := range payments {
			outstanding[payments[i].PaymentNumber] = componentOutstanding(&payments[i], component)
		}
	}

	var total int64
	for _, amount := range outstanding {
		total += amount
	}

	granted, err := e.grantedUnapplied(tx, p.LoanID, component, from, to, outstanding)
	if err != nil {
		return 0, err
	}

	remaining := total - granted
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// grantedUnapplied сумма непроведенных прощений, приходящаяся на диапазон.
// Прощение, выходящее за диапазон, учитывается не больше долга
// платежей в пересечении.
func (e *WaiverEngine) grantedUnapplied(tx *gorm.DB, loanID uint, component models.WaiverComponent, from, to int, outstanding map[int]int64) (int64, error) {
	records, err := e.activeRecords(tx, loanID, component)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, r := range records {
		lo, hi := max(r.FromPaymentNumber, from), min(r.MaxPaymentNumber, to)
		if lo > hi {
			continue
		}
		var capacity int64
		for number := lo; number <= hi; number++ {
			capacity += outstanding[number]
		}
		total += min(r.Unapplied(), capacity)
	}
	return total, nil
}

// activeRecords выданные, не истекшие и не проведенные до конца прощения
func (e *WaiverEngine) activeRecords(tx *gorm.DB, loanID uint, component models.WaiverComponent) ([]models.WaiverRecord, error) {
	var records []models.WaiverRecord
	query := tx.Where("loan_id = ? AND variant = ? AND amount > applied_amount", loanID, models.VariantUnpaid)
	if component != "" {
		query = query.Where("component = ?", component)
	}
	if err := query.Order("id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("ошибка при получении прощений: %v", err)
	}
	return e.unexpired(records), nil
}

// unexpired отбрасывает прощения с истекшим сроком действия
func (e *WaiverEngine) unexpired(records []models.WaiverRecord) []models.WaiverRecord {
	loc := e.config.Location()
	today := calendarDate(e.now(), loc)
	active := records[:0]
	for _, r := range records {
		if r.ValidityDate != nil && calendarDate(*r.ValidityDate, loc).Before(today) {
			continue
		}
		active = append(active, r)
	}
	return active
}

// ApplyWaiver проверяет условия по порядку и проводит прощение.
// Первое невыполненное условие возвращается как OrderingPreconditionError.
func (e *WaiverEngine) ApplyWaiver(tx *gorm.DB, p *models.Payment, req WaiverRequest) (*WaiverResult, error) {
	result, err := e.applyWaiver(tx, p, req)
	var rejected *OrderingPreconditionError
	if errors.As(err, &rejected) {
		e.metrics.RecordWaiverRejected(rejected.Step)
		utils.LogInfo("Прощение по платежу %d отклонено на шаге %d: %s", p.ID, rejected.Step, rejected.Reason)
	}
	return result, err
}

func (e *WaiverEngine) applyWaiver(tx *gorm.DB, p *models.Payment, req WaiverRequest) (*WaiverResult, error) {
	isUnpaid := req.Variant == models.VariantUnpaid

	if !req.ApproverRole.HasCollectionsSupervisorAuthority() {
		return nil, rejectWaiver(WaiverStepApproverRole, "требуются полномочия супервизора взыскания")
	}
	if req.Amount <= 0 {
		return nil, rejectWaiver(WaiverStepAmount, "сумма должна быть больше 0")
	}
	if models.IsPaidPaymentStatus(p.StatusCode) {
		return nil, rejectWaiver(WaiverStepPaymentPaid, "платеж уже погашен")
	}

	var loan models.Loan
	if err := tx.First(&loan, p.LoanID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLoanNotFound
		}
		return nil, err
	}
	if loan.StatusCode == models.LoanRenegotiated {
		return nil, rejectWaiver(WaiverStepLoanRenegotiated, "кредит реструктурирован")
	}

	maxNumber := p.PaymentNumber
	if req.MaxPaymentNumber != nil {
		maxNumber = *req.MaxPaymentNumber
	}
	if maxNumber < p.PaymentNumber {
		return nil, rejectWaiver(WaiverStepPaymentRange, "max_payment_number меньше номера платежа")
	}

	if req.ValidityDate != nil {
		loc := e.config.Location()
		today := calendarDate(e.now(), loc)
		validity := calendarDate(*req.ValidityDate, loc)
		if validity.Before(today) || validity.After(today.AddDate(0, 0, e.config.WaiverValidityMaxDays())) {
			return nil, rejectWaiver(WaiverStepValidityDate, "срок действия вне допустимого диапазона")
		}
	}

	if err := e.checkComponentOrder(tx, p, req.Component, isUnpaid); err != nil {
		return nil, err
	}

	// Диапазон блокируется по возрастанию номера платежа
	if isUnpaid {
		var locked []models.Payment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("loan_id = ? AND payment_number BETWEEN ? AND ?", p.LoanID, p.PaymentNumber, maxNumber).
			Order("payment_number ASC").
			Find(&locked).Error; err != nil {
			return nil, fmt.Errorf("ошибка при блокировке платежей: %v", err)
		}
	}

	remaining, err := e.ComputeRemaining(tx, p, req.Component, isUnpaid, &maxNumber)
	if err != nil {
		return nil, err
	}
	if isUnpaid && req.Amount >= remaining {
		return nil, rejectWaiver(WaiverStepRemaining, fmt.Sprintf("сумма %d не меньше остатка %d", req.Amount, remaining))
	}
	if !isUnpaid && req.Amount > remaining {
		return nil, rejectWaiver(WaiverStepRemaining, fmt.Sprintf("сумма %d больше остатка %d", req.Amount, remaining))
	}

	record := &models.WaiverRecord{
		LoanID:            p.LoanID,
		PaymentID:         p.ID,
		Component:         req.Component,
		Variant:           req.Variant,
		Amount:            req.Amount,
		FromPaymentNumber: p.PaymentNumber,
		MaxPaymentNumber:  maxNumber,
		ValidityDate:      req.ValidityDate,
		ApproverRole:      req.ApproverRole,
		ApprovedBy:        req.ApprovedBy,
		Note:              req.Note,
	}

	result := &WaiverResult{Record: record}
	if !isUnpaid {
		kind, err := WaiverKind(req.Component, req.Variant)
		if err != nil {
			return nil, err
		}
		event, err := e.recorder.Record(tx, p, kind, req.Amount, e.now(), EventMeta{
			Metadata: map[string]interface{}{"note": req.Note, "approver_role": string(req.ApproverRole)},
		})
		if err != nil {
			return nil, err
		}
		record.AppliedAmount = req.Amount
		result.Event = event
	}

	if err := tx.Create(record).Error; err != nil {
		return nil, fmt.Errorf("ошибка при сохранении прощения: %v", err)
	}

	e.metrics.RecordWaiver(string(req.Component), string(req.Variant))
	return result, nil
}

// checkComponentOrder проверяет очередность прощения компонент
func (e *WaiverEngine) checkComponentOrder(tx *gorm.DB, p *models.Payment, component models.WaiverComponent, isUnpaid bool) error {
	switch component {
	case models.ComponentLateFee:
		if p.RemainingPrincipal() > 0 {
			return rejectWaiver(WaiverStepComponentOrder, "сначала должен быть погашен основной долг")
		}
		if p.RemainingInterest() > 0 {
			return rejectWaiver(WaiverStepComponentOrder, "сначала должны быть погашены проценты")
		}
	case models.ComponentInterest:
		if !isUnpaid && p.RemainingPrincipal() > 0 {
			return rejectWaiver(WaiverStepComponentOrder, "сначала должен быть погашен основной долг")
		}
	case models.ComponentPrincipal:
		if !isUnpaid {
			return nil
		}
		// Нужны действующие прощения штрафа и процентов, покрывающие этот платеж
		var records []models.WaiverRecord
		if err := tx.Where("loan_id = ? AND variant = ? AND component IN ? AND from_payment_number <= ? AND max_payment_number >= ?",
			p.LoanID, models.VariantUnpaid,
			[]string{string(models.ComponentLateFee), string(models.ComponentInterest)},
			p.PaymentNumber, p.PaymentNumber).
			Find(&records).Error; err != nil {
			return fmt.Errorf("ошибка при проверке прощений: %v", err)
		}
		granted := make(map[models.WaiverComponent]bool)
		for _, r := range e.unexpired(records) {
			granted[r.Component] = true
		}
		if !granted[models.ComponentLateFee] || !granted[models.ComponentInterest] {
			return rejectWaiver(WaiverStepComponentOrder, "сначала должны быть прощены штраф и проценты")
		}
	default:
		return fmt.Errorf("неизвестная компонента прощения %q", component)
	}
	return nil
}

// componentRank порядок проведения прощений по платежу
var componentRank = map[models.WaiverComponent]int{
	models.ComponentLateFee:   0,
	models.ComponentInterest:  1,
	models.ComponentPrincipal: 2,
}

// ApplyGrantedWaivers проводит выданные unpaid прощения перед денежным событием
func (e *WaiverEngine) ApplyGrantedWaivers(tx *gorm.DB, p *models.Payment, eventDate time.Time) ([]*models.PaymentEvent, error) {
	records, err := e.activeRecords(tx, p.LoanID, "")
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return componentRank[records[i].Component] < componentRank[records[j].Component]
	})

	var events []*models.PaymentEvent
	for i := range records {
		record := &records[i]
		if !record.Covers(p.PaymentNumber) {
			continue
		}
		amount := min(record.Unapplied(), componentOutstanding(p, record.Component))
		if amount <= 0 {
			continue
		}

		kind, err := WaiverKind(record.Component, models.VariantUnpaid)
		if err != nil {
			return nil, err
		}
		event, err := e.recorder.Record(tx, p, kind, amount, eventDate, EventMeta{
			Metadata: map[string]interface{}{"waiver_record_id": record.ID},
		})
		if err != nil {
			return nil, err
		}

		if err := tx.Model(record).Update("applied_amount", gorm.Expr("applied_amount + ?", amount)).Error; err != nil {
			return nil, fmt.Errorf("ошибка при обновлении прощения: %v", err)
		}
		events = append(events, event)
	}
	return events, nil
}
