package services

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"loanservicing/database"
	"loanservicing/models"
)

// fakeConfig ConfigProvider с фиксированными значениями
type fakeConfig struct {
	gracePeriodDays   int
	lateFeeCapPercent int64
	lateFeePercent    int64
	lateFeeSchedule   []int
	waiverValidity    int
	location          *time.Location
}

func newFakeConfig() *fakeConfig {
	return &fakeConfig{
		gracePeriodDays:   5,
		lateFeeCapPercent: 30,
		lateFeePercent:    5,
		lateFeeSchedule:   []int{1, 30, 60, 90},
		waiverValidity:    39,
		location:          time.UTC,
	}
}

func (c *fakeConfig) GracePeriodDays() int           { return c.gracePeriodDays }
func (c *fakeConfig) LateFeeCapPercent(string) int64 { return c.lateFeeCapPercent }
func (c *fakeConfig) LateFeePercent() int64          { return c.lateFeePercent }
func (c *fakeConfig) LateFeeDPDSchedule() []int      { return c.lateFeeSchedule }
func (c *fakeConfig) WaiverValidityMaxDays() int     { return c.waiverValidity }
func (c *fakeConfig) Location() *time.Location       { return c.location }

// recordingDispatcher запоминает сообщения вместо доставки
type recordingDispatcher struct {
	mu       sync.Mutex
	messages []Message
}

func (d *recordingDispatcher) Dispatch(msg Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, msg)
}

func (d *recordingDispatcher) ofType(t MessageType) []Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Message
	for _, msg := range d.messages {
		if msg.Type == t {
			out = append(out, msg)
		}
	}
	return out
}

// newTestDB открывает SQLite во временном каталоге и создает таблицы
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return db
}

// ledgerFixture собранное ядро журнала поверх тестовой базы
type ledgerFixture struct {
	db          *gorm.DB
	config      *fakeConfig
	registry    *StatusRegistry
	validator   *TransitionValidator
	loans       *LoanStatusService
	ledger      *PaymentLedger
	recorder    *PaymentEventRecorder
	waivers     *WaiverEngine
	refinancing *RefinancingService
	wallet      *WalletService
	dispatcher  *recordingDispatcher
	events      *PaymentEventService
	scheduler   *PaymentSchedulerService

	nextApplicationID uint
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	db := newTestDB(t)
	cfg := newFakeConfig()

	registry := DefaultStatusRegistry()
	workflows, err := DefaultWorkflows(registry)
	require.NoError(t, err)

	validator := NewTransitionValidator(workflows, registry, nil)
	loans := NewLoanStatusService(validator, cfg)
	ledger := NewPaymentLedger(validator, cfg, NewLoanLateFeeCap(cfg), loans, nil)
	recorder := NewPaymentEventRecorder(ledger, nil)
	waivers := NewWaiverEngine(recorder, cfg, nil)
	refinancing := NewRefinancingService(db, loans)
	wallet := NewWalletService(db)
	dispatcher := &recordingDispatcher{}

	f := &ledgerFixture{
		db:          db,
		config:      cfg,
		registry:    registry,
		validator:   validator,
		loans:       loans,
		ledger:      ledger,
		recorder:    recorder,
		waivers:     waivers,
		refinancing: refinancing,
		wallet:      wallet,
		dispatcher:  dispatcher,
		events:      NewPaymentEventService(db, recorder, waivers, refinancing, wallet, dispatcher),
		scheduler:   NewPaymentSchedulerService(db, ledger, loans, refinancing, cfg, dispatcher),
	}
	f.setNow(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	return f
}

// setNow фиксирует текущее время для всех сервисов
func (f *ledgerFixture) setNow(now time.Time) {
	clock := func() time.Time { return now }
	f.ledger.now = clock
	f.waivers.now = clock
	f.refinancing.now = clock
}

// testLoan кредит с графиком и способом оплаты
type testLoan struct {
	loan     *models.Loan
	payments []models.Payment
	method   *models.PaymentMethod
}

// createLoan выдает кредит в статусе current без прохождения заявки
func (f *ledgerFixture) createLoan(t *testing.T, amount int64, months int, rateBP int64, disbursedAt time.Time) *testLoan {
	t.Helper()
	f.nextApplicationID++

	loan := &models.Loan{
		ApplicationID:         f.nextApplicationID,
		CustomerID:            42,
		ProductLine:           "mtl",
		LoanAmount:            amount,
		LoanDuration:          months,
		MonthlyInterestRateBP: rateBP,
		StatusCode:            models.LoanCurrent,
		DisbursedAt:           disbursedAt,
	}
	require.NoError(t, f.db.Create(loan).Error)

	payments := GenerateSchedule(loan, f.config.Location())
	require.NoError(t, f.db.Create(&payments).Error)

	method := &models.PaymentMethod{LoanID: loan.ID, Name: "virtual_account", VirtualAccount: "0000000000000001", IsActive: true}
	require.NoError(t, f.db.Create(method).Error)

	return &testLoan{loan: loan, payments: payments, method: method}
}

func (f *ledgerFixture) payment(t *testing.T, id uint) *models.Payment {
	t.Helper()
	var p models.Payment
	require.NoError(t, f.db.First(&p, id).Error)
	return &p
}

func (f *ledgerFixture) loan(t *testing.T, id uint) *models.Loan {
	t.Helper()
	var loan models.Loan
	require.NoError(t, f.db.First(&loan, id).Error)
	return &loan
}

// record проводит событие в транзакции с блокировкой кредита и платежа
func (f *ledgerFixture) record(t *testing.T, paymentID uint, kind EventKind, amount int64, eventDate time.Time) (*models.PaymentEvent, error) {
	t.Helper()
	var event *models.PaymentEvent
	err := f.db.Transaction(func(tx *gorm.DB) error {
		p, err := lockPayment(tx, paymentID)
		if err != nil {
			return err
		}
		if _, err := lockLoan(tx, p.LoanID); err != nil {
			return err
		}
		event, err = f.recorder.Record(tx, p, kind, amount, eventDate, EventMeta{})
		return err
	})
	if err == nil {
		assertLedgerInvariants(t, f.db, paymentID)
	}
	return event, err
}

// reverse сторнирует событие в транзакции
func (f *ledgerFixture) reverse(t *testing.T, paymentID, eventID uint) (*models.PaymentEvent, error) {
	t.Helper()
	var void *models.PaymentEvent
	err := f.db.Transaction(func(tx *gorm.DB) error {
		p, err := lockPayment(tx, paymentID)
		if err != nil {
			return err
		}
		void, err = f.recorder.Reverse(tx, p, eventID)
		return err
	})
	if err == nil {
		assertLedgerInvariants(t, f.db, paymentID)
	}
	return void, err
}

// applyWaiver проводит прощение в транзакции
func (f *ledgerFixture) applyWaiver(t *testing.T, req WaiverRequest) (*WaiverResult, error) {
	t.Helper()
	var result *WaiverResult
	err := f.db.Transaction(func(tx *gorm.DB) error {
		p, err := lockPayment(tx, req.PaymentID)
		if err != nil {
			return err
		}
		result, err = f.waivers.ApplyWaiver(tx, p, req)
		return err
	})
	return result, err
}

func (f *ledgerFixture) remaining(t *testing.T, paymentID uint, component models.WaiverComponent, isUnpaid bool, maxPaymentNumber *int) int64 {
	t.Helper()
	p := f.payment(t, paymentID)
	remaining, err := f.waivers.ComputeRemaining(f.db, p, component, isUnpaid, maxPaymentNumber)
	require.NoError(t, err)
	return remaining
}

// assertLedgerInvariants сверяет агрегаты платежа с журналом событий
func assertLedgerInvariants(t *testing.T, db *gorm.DB, paymentID uint) {
	t.Helper()
	var p models.Payment
	require.NoError(t, db.First(&p, paymentID).Error)
	require.NoError(t, p.CheckBalance())
	require.Equal(t, p.InstallmentPrincipal+p.InstallmentInterest+p.LateFeeAmount-p.PaidAmount, p.DueAmount)

	events, err := ListEvents(db, paymentID)
	require.NoError(t, err)

	var principal, interest, lateFee, charged int64
	for _, e := range events {
		principal += e.AllocatedPrincipal
		interest += e.AllocatedInterest
		lateFee += e.AllocatedLateFee
		if e.EventType == KindLateFee.String() {
			charged += -e.EventPayment
		}
		if len(e.EventType) > len(voidSuffix) && e.EventType[len(e.EventType)-len(voidSuffix):] == voidSuffix {
			require.False(t, e.CanReverse, "void event %d must never be reversible", e.ID)
		}
	}
	require.Equal(t, p.PaidPrincipal, principal)
	require.Equal(t, p.PaidInterest, interest)
	require.Equal(t, p.PaidLateFee, lateFee)
	require.Equal(t, p.LateFeeAmount, charged)
}

func intPtr(v int) *int { return &v }

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
