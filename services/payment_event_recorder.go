package services

import (
	"errors"
	"fmt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"loanservicing/models"
	"loanservicing/utils"
	"time"
)

// PaymentEventRecorder записывает события журнала и сторнирует их.
// Вызывающий открывает транзакцию и блокирует кредит и платеж.
// Повторные вызовы не дедуплицируются: каждый вызов дает одну запись.
type PaymentEventRecorder struct {
	ledger  *PaymentLedger
	metrics *utils.LedgerMetrics
}

// NewPaymentEventRecorder создает новый экземпляр PaymentEventRecorder
func NewPaymentEventRecorder(ledger *PaymentLedger, metrics *utils.LedgerMetrics) *PaymentEventRecorder {
	return &PaymentEventRecorder{
		ledger:  ledger,
		metrics: metrics,
	}
}

// Ledger возвращает журнал платежей
func (r *PaymentEventRecorder) Ledger() *PaymentLedger {
	return r.ledger
}

// Record проводит событие по платежу
func (r *PaymentEventRecorder) Record(tx *gorm.DB, p *models.Payment, kind EventKind, amount int64, eventDate time.Time, meta EventMeta) (*models.PaymentEvent, error) {
	if kind < 0 || kind >= kindCount {
		return nil, fmt.Errorf("неизвестный вид события %d", int(kind))
	}
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	if kind == KindLateFee {
		return r.ledger.applyLateFee(tx, p, amount, eventDate, meta)
	}
	return r.ledger.appendEvent(tx, p, kind, amount, eventDate, meta)
}

// Reverse сторнирует событие компенсирующей записью <тип>_void
func (r *PaymentEventRecorder) Reverse(tx *gorm.DB, p *models.Payment, eventID uint) (*models.PaymentEvent, error) {
	var original models.PaymentEvent
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&original, eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}
	if original.PaymentID != p.ID {
		return nil, fmt.Errorf("%w: событие %d не относится к платежу %d", ErrEventNotFound, eventID, p.ID)
	}

	kind, ok := ParseEventKind(original.EventType)
	if !ok || !kind.Reversible() || !original.CanReverse || original.ReversalEventID != nil {
		return nil, fmt.Errorf("%w: %s #%d", ErrNonReversibleEvent, original.EventType, original.ID)
	}

	dueBefore := p.DueAmount
	revertAllocation(p, allocation{
		Principal: original.AllocatedPrincipal,
		Interest:  original.AllocatedInterest,
		LateFee:   original.AllocatedLateFee,
	})

	void := &models.PaymentEvent{
		PaymentID:          p.ID,
		EventType:          original.EventType + voidSuffix,
		EventPayment:       -original.EventPayment,
		EventDueAmount:     dueBefore,
		EventDate:          r.ledger.now(),
		CanReverse:         false,
		AllocatedPrincipal: -original.AllocatedPrincipal,
		AllocatedInterest:  -original.AllocatedInterest,
		AllocatedLateFee:   -original.AllocatedLateFee,
		PaymentMethodID:    original.PaymentMethodID,
	}
	if err := tx.Create(void).Error; err != nil {
		return nil, fmt.Errorf("ошибка при записи сторно: %v", err)
	}

	if err := tx.Model(&original).Updates(map[string]interface{}{
		"can_reverse":       false,
		"reversal_event_id": void.ID,
	}).Error; err != nil {
		return nil, fmt.Errorf("ошибка при обновлении события: %v", err)
	}

	paidDate, err := latestReversibleEventDate(tx, p.ID)
	if err != nil {
		return nil, err
	}
	p.PaidDate = paidDate

	if err := r.ledger.afterMutation(tx, p); err != nil {
		return nil, err
	}

	r.metrics.RecordReversal(original.EventType)
	utils.LogInfo("Событие %s #%d сторнировано записью #%d", original.EventType, original.ID, void.ID)
	return void, nil
}

// latestReversibleEventDate дата последнего еще не сторнированного денежного события
func latestReversibleEventDate(tx *gorm.DB, paymentID uint) (*time.Time, error) {
	var events []models.PaymentEvent
	if err := tx.Where("payment_id = ? AND can_reverse = ?", paymentID, true).
		Order("event_date DESC, id DESC").
		Limit(1).
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("ошибка при поиске событий: %v", err)
	}
	if len(events) == 0 {
		return nil, nil
	}
	date := events[0].EventDate
	return &date, nil
}

// ListEvents возвращает события платежа в порядке записи
func ListEvents(db *gorm.DB, paymentID uint) ([]models.PaymentEvent, error) {
	var events []models.PaymentEvent
	if err := db.Where("payment_id = ?", paymentID).Order("id ASC").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
