package services

import (
	"context"
	"errors"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"loanservicing/models"
	"loanservicing/utils"
	"sync"
	"time"
)

// MessageType тип сообщения, отправляемого после коммита
type MessageType string

const (
	MessageWalletDebit   MessageType = "wallet.debit"
	MessageWalletCredit  MessageType = "wallet.credit"
	MessageStatusChanged MessageType = "notification.status_changed"
	MessagePaymentPosted MessageType = "notification.payment_posted"
)

// WalletPayload движение по кошельку, вызванное событием журнала
type WalletPayload struct {
	CustomerID     uint
	PaymentEventID uint
	Amount         int64
	Description    string
}

// StatusChangedPayload смена статуса заявки, кредита или платежа
type StatusChangedPayload struct {
	Domain     models.StatusDomain
	ObjectID   uint
	CustomerID uint
	StatusOld  int
	StatusNew  int
}

// PaymentPostedPayload проведенное событие по платежу
type PaymentPostedPayload struct {
	CustomerID uint
	PaymentID  uint
	EventType  string
	Amount     int64
	DueAmount  int64
}

// Message сообщение с доставкой "хотя бы один раз"
type Message struct {
	ID        uuid.UUID
	Type      MessageType
	Payload   interface{}
	CreatedAt time.Time
}

// NewMessage создает сообщение с новым идентификатором
func NewMessage(t MessageType, payload interface{}) Message {
	return Message{
		ID:        uuid.New(),
		Type:      t,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

// Dispatcher отправляет сообщения после коммита транзакции.
// Ошибки доставки не влияют на уже записанные данные.
type Dispatcher interface {
	Dispatch(msg Message)
}

// MessageHandler обработчик сообщений одного типа
type MessageHandler func(ctx context.Context, msg Message) error

// AsyncDispatcher доставляет каждое сообщение в отдельной горутине с повторами
type AsyncDispatcher struct {
	mu          sync.RWMutex
	handlers    map[MessageType]MessageHandler
	maxAttempts int
	interval    time.Duration
	timeout     time.Duration
	metrics     *utils.LedgerMetrics
	wg          sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewAsyncDispatcher создает новый экземпляр AsyncDispatcher.
// interval - начальная пауза экспоненциальных повторов.
func NewAsyncDispatcher(maxAttempts int, interval time.Duration, metrics *utils.LedgerMetrics) *AsyncDispatcher {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &AsyncDispatcher{
		handlers:    make(map[MessageType]MessageHandler),
		maxAttempts: maxAttempts,
		interval:    interval,
		timeout:     30 * time.Second,
		metrics:     metrics,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Register регистрирует обработчик для типа сообщений
func (d *AsyncDispatcher) Register(t MessageType, handler MessageHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[t] = handler
}

// Dispatch ставит сообщение в доставку и сразу возвращает управление
func (d *AsyncDispatcher) Dispatch(msg Message) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}

	d.mu.RLock()
	handler, ok := d.handlers[msg.Type]
	d.mu.RUnlock()
	if !ok {
		utils.LogWarn("Нет обработчика для сообщения %s (%s)", msg.Type, msg.ID)
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(handler, msg)
	}()
}

func (d *AsyncDispatcher) deliver(handler MessageHandler, msg Message) {
	attempt := 0
	operation := func() error {
		attempt++
		ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
		defer cancel()

		err := handler(ctx, msg)
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		utils.LogWarn("Сообщение %s (%s): попытка %d из %d не удалась: %v, повтор через %v", msg.Type, msg.ID, attempt, d.maxAttempts, err, wait)
	}

	if err := backoff.RetryNotify(operation, d.newBackOff(), notify); err != nil {
		d.metrics.RecordDispatchFailure(string(msg.Type))
		utils.LogError("Сообщение %s (%s) не доставлено после %d попыток: %v", msg.Type, msg.ID, attempt, err)
	}
}

// newBackOff экспоненциальные паузы с разбросом, не больше maxAttempts попыток
func (d *AsyncDispatcher) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.interval
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(d.maxAttempts-1)), d.ctx)
}

// isPermanent ошибки, которые повтор не исправит
func isPermanent(err error) bool {
	return errors.Is(err, ErrInvalidAmount) || errors.Is(err, ErrInsufficientCredits)
}

// Wait ожидает завершения всех доставок
func (d *AsyncDispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown ожидает доставки до истечения ctx, затем прерывает ожидающие повторы
func (d *AsyncDispatcher) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		utils.LogWarn("Доставка сообщений прервана: %v", ctx.Err())
		d.cancel()
		<-done
	}
	d.cancel()
}
