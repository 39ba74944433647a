package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"gorm.io/gorm"
	"loanservicing/models"
	"loanservicing/utils"
	"time"
)

// PaidDateLayout формат даты во входящих запросах (DD-MM-YYYY)
const PaidDateLayout = "02-01-2006"

// Типы событий, которые можно передать во входящем запросе
const (
	RequestEventPayment        = "payment"
	RequestEventLateFee        = "late_fee"
	RequestEventCustomerWallet = "customer_wallet"
)

// PaymentEventRequest входящее событие по платежу
type PaymentEventRequest struct {
	PaymentID       uint   `json:"-" validate:"required"`
	EventType       string `json:"event_type" validate:"required,oneof=payment late_fee customer_wallet"`
	Amount          int64  `json:"amount" validate:"gt=0"`
	PaidDate        string `json:"paid_date" validate:"required"`
	Notes           string `json:"notes" validate:"max=255"`
	PaymentMethodID *uint  `json:"payment_method_id,omitempty"`
	UseCredits      bool   `json:"use_credits"`
	Receipt         string `json:"receipt,omitempty" validate:"max=100"`
}

// AddEventResult результат проведения события
type AddEventResult struct {
	Event                *models.PaymentEvent   `json:"event,omitempty"`
	WaiverEvents         []*models.PaymentEvent `json:"waiver_events,omitempty"`
	Payment              *models.Payment        `json:"payment"`
	RefinancingActivated bool                   `json:"refinancing_activated"`
}

// PaymentEventService принимает события по платежам от внешних слоев
type PaymentEventService struct {
	db          *gorm.DB
	recorder    *PaymentEventRecorder
	waivers     *WaiverEngine
	refinancing *RefinancingService
	wallet      *WalletService
	dispatcher  Dispatcher
}

// NewPaymentEventService создает новый экземпляр PaymentEventService
func NewPaymentEventService(db *gorm.DB, recorder *PaymentEventRecorder, waivers *WaiverEngine, refinancing *RefinancingService, wallet *WalletService, dispatcher Dispatcher) *PaymentEventService {
	return &PaymentEventService{
		db:          db,
		recorder:    recorder,
		waivers:     waivers,
		refinancing: refinancing,
		wallet:      wallet,
		dispatcher:  dispatcher,
	}
}

// ParsePaidDate разбирает дату в формате DD-MM-YYYY как полночь в часовом поясе loc
func ParsePaidDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	date, err := time.ParseInLocation(PaidDateLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDateFormat, value)
	}
	return date, nil
}

// ParseDate разбирает дату DD-MM-YYYY в часовом поясе журнала
func (s *PaymentEventService) ParseDate(value string) (time.Time, error) {
	return ParsePaidDate(value, s.recorder.Ledger().Location())
}

// AddEvent проверяет запрос и проводит событие в одной транзакции.
// Кошелек и уведомления обрабатываются после коммита.
func (s *PaymentEventService) AddEvent(ctx context.Context, req PaymentEventRequest) (*AddEventResult, error) {
	startTime := time.Now()

	if err := validateStruct(req); err != nil {
		return nil, err
	}
	paidDate, err := s.ParseDate(req.PaidDate)
	if err != nil {
		return nil, err
	}

	useCredits := req.UseCredits || req.EventType == RequestEventCustomerWallet
	kind := KindPayment
	switch {
	case req.EventType == RequestEventLateFee:
		kind = KindLateFee
	case useCredits:
		kind = KindCustomerWallet
	}

	var payment models.Payment
	if err := s.db.WithContext(ctx).First(&payment, req.PaymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}

	if kind == KindPayment {
		if err := s.checkPaymentMethod(ctx, payment.LoanID, req.PaymentMethodID); err != nil {
			return nil, err
		}
	}

	meta := EventMeta{Metadata: map[string]interface{}{}}
	if kind == KindPayment {
		meta.PaymentMethodID = req.PaymentMethodID
	}
	if req.Notes != "" {
		meta.Metadata["notes"] = req.Notes
	}
	if req.Receipt != "" {
		meta.Metadata["receipt"] = req.Receipt
	}

	result := &AddEventResult{}
	var loan *models.Loan
	var loanStatusBefore int

	err = ledgerTransaction(ctx, s.db, func(tx *gorm.DB) error {
		// Порядок блокировок: кредит, затем платеж
		var err error
		loan, err = lockLoan(tx, payment.LoanID)
		if err != nil {
			return err
		}
		loanStatusBefore = loan.StatusCode

		p, err := lockPayment(tx, payment.ID)
		if err != nil {
			return err
		}
		result.Payment = p

		if kind == KindPayment {
			activated, err := s.refinancing.TryActivate(tx, loan, req.Amount, paidDate)
			if err != nil {
				return err
			}
			if activated {
				result.RefinancingActivated = true
				return nil
			}
		}

		if kind != KindLateFee {
			events, err := s.waivers.ApplyGrantedWaivers(tx, p, paidDate)
			if err != nil {
				return err
			}
			result.WaiverEvents = events
		}

		if kind == KindCustomerWallet {
			balance, err := s.wallet.Balance(tx, loan.CustomerID)
			if err != nil {
				return err
			}
			if balance < req.Amount {
				return fmt.Errorf("%w: баланс %d, требуется %d", ErrInsufficientCredits, balance, req.Amount)
			}
		}

		event, err := s.recorder.Record(tx, p, kind, req.Amount, paidDate, meta)
		if err != nil {
			return err
		}
		result.Event = event

		return tx.First(loan, loan.ID).Error
	})
	utils.LogOperation("payment_event."+req.EventType, startTime, err)
	if err != nil {
		return nil, err
	}

	s.afterCommit(loan, loanStatusBefore, result)
	return result, nil
}

// afterCommit отправляет побочные эффекты уже записанного события
func (s *PaymentEventService) afterCommit(loan *models.Loan, loanStatusBefore int, result *AddEventResult) {
	if result.Event != nil && result.Event.EventType == KindCustomerWallet.String() {
		s.dispatcher.Dispatch(NewMessage(MessageWalletDebit, WalletPayload{
			CustomerID:     loan.CustomerID,
			PaymentEventID: result.Event.ID,
			Amount:         result.Event.EventPayment,
			Description:    fmt.Sprintf("Оплата платежа %d", result.Payment.ID),
		}))
	}

	if result.Event != nil {
		s.dispatcher.Dispatch(NewMessage(MessagePaymentPosted, PaymentPostedPayload{
			CustomerID: loan.CustomerID,
			PaymentID:  result.Payment.ID,
			EventType:  result.Event.EventType,
			Amount:     result.Event.EventPayment,
			DueAmount:  result.Payment.DueAmount,
		}))
	}

	if loan.StatusCode != loanStatusBefore {
		s.dispatcher.Dispatch(NewMessage(MessageStatusChanged, StatusChangedPayload{
			Domain:     models.DomainLoan,
			ObjectID:   loan.ID,
			CustomerID: loan.CustomerID,
			StatusOld:  loanStatusBefore,
			StatusNew:  loan.StatusCode,
		}))
	}
}

// checkPaymentMethod проверяет, что способ оплаты указан и привязан к кредиту
func (s *PaymentEventService) checkPaymentMethod(ctx context.Context, loanID uint, methodID *uint) error {
	if methodID == nil {
		return ErrMissingPaymentMethod
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.PaymentMethod{}).
		Where("id = ? AND loan_id = ? AND is_active = ?", *methodID, loanID, true).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: способ оплаты %d не привязан к кредиту %d", ErrMissingPaymentMethod, *methodID, loanID)
	}
	return nil
}

// ReverseEvent сторнирует событие и возвращает кредиты кошелька после коммита
func (s *PaymentEventService) ReverseEvent(ctx context.Context, eventID uint) (*models.PaymentEvent, error) {
	var original models.PaymentEvent
	if err := s.db.WithContext(ctx).First(&original, eventID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEventNotFound
		}
		return nil, err
	}

	var payment models.Payment
	if err := s.db.WithContext(ctx).First(&payment, original.PaymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}

	var void *models.PaymentEvent
	var loan *models.Loan
	var loanStatusBefore int
	var p *models.Payment

	err := ledgerTransaction(ctx, s.db, func(tx *gorm.DB) error {
		var err error
		loan, err = lockLoan(tx, payment.LoanID)
		if err != nil {
			return err
		}
		loanStatusBefore = loan.StatusCode

		p, err = lockPayment(tx, payment.ID)
		if err != nil {
			return err
		}

		void, err = s.recorder.Reverse(tx, p, eventID)
		if err != nil {
			return err
		}
		return tx.First(loan, loan.ID).Error
	})
	if err != nil {
		return nil, err
	}

	if original.EventType == KindCustomerWallet.String() {
		s.dispatcher.Dispatch(NewMessage(MessageWalletCredit, WalletPayload{
			CustomerID:     loan.CustomerID,
			PaymentEventID: original.ID,
			Amount:         original.EventPayment,
			Description:    fmt.Sprintf("Сторно события %d", original.ID),
		}))
	}
	s.afterCommit(loan, loanStatusBefore, &AddEventResult{Event: void, Payment: p})
	return void, nil
}

// ListEvents возвращает события платежа только для чтения
func (s *PaymentEventService) ListEvents(ctx context.Context, paymentID uint) ([]models.PaymentEvent, error) {
	return ListEvents(s.db.WithContext(ctx), paymentID)
}

// ApplyWaiver проводит прощение по платежу
func (s *PaymentEventService) ApplyWaiver(ctx context.Context, req WaiverRequest) (*WaiverResult, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	var payment models.Payment
	if err := s.db.WithContext(ctx).First(&payment, req.PaymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}

	var result *WaiverResult
	err := ledgerTransaction(ctx, s.db, func(tx *gorm.DB) error {
		if _, err := lockLoan(tx, payment.LoanID); err != nil {
			return err
		}
		p, err := lockPayment(tx, payment.ID)
		if err != nil {
			return err
		}
		result, err = s.waivers.ApplyWaiver(tx, p, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RemainingWaivable возвращает остаток компоненты, доступный для прощения
func (s *PaymentEventService) RemainingWaivable(ctx context.Context, paymentID uint, component models.WaiverComponent, isUnpaid bool, maxPaymentNumber *int) (int64, error) {
	var payment models.Payment
	if err := s.db.WithContext(ctx).First(&payment, paymentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrPaymentNotFound
		}
		return 0, err
	}
	return s.waivers.ComputeRemaining(s.db.WithContext(ctx), &payment, component, isUnpaid, maxPaymentNumber)
}

// PaymentOwner возвращает клиента, которому принадлежит платеж
func (s *PaymentEventService) PaymentOwner(ctx context.Context, paymentID uint) (uint, error) {
	var loan models.Loan
	err := s.db.WithContext(ctx).
		Joins("JOIN payments ON payments.loan_id = loans.id").
		Where("payments.id = ?", paymentID).
		First(&loan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrPaymentNotFound
		}
		return 0, err
	}
	return loan.CustomerID, nil
}

// ledgerTransaction выполняет fn в транзакции; на PostgreSQL с уровнем serializable
func ledgerTransaction(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	db = db.WithContext(ctx)
	if db.Dialector.Name() == "postgres" {
		return db.Transaction(fn, &sql.TxOptions{Isolation: sql.LevelSerializable})
	}
	return db.Transaction(fn)
}
