package services

import (
	"context"
	"errors"
	"fmt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"loanservicing/models"
	"loanservicing/utils"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// HandlerDisburseLoan обработчик перехода заявки в "fund disbursal successful"
const HandlerDisburseLoan = "disburse_loan"

// CreateApplicationDTO представляет данные для создания заявки
type CreateApplicationDTO struct {
	CustomerID            uint   `json:"-" validate:"required"`
	ProductLine           string `json:"product_line" validate:"required,max=50"`
	LoanAmount            int64  `json:"loan_amount" validate:"required,gt=0"`
	LoanDuration          int    `json:"loan_duration" validate:"required,gt=0,max=60"`
	MonthlyInterestRateBP int64  `json:"monthly_interest_rate_bp" validate:"gte=0"`
}

// StatusChangeRequest запрос на смену статуса заявки
type StatusChangeRequest struct {
	Status int    `json:"status" validate:"gte=0"`
	Reason string `json:"reason" validate:"max=255"`
}

// TransitionHandler действие, выполняемое в транзакции перехода
type TransitionHandler func(tx *gorm.DB, app *models.Application, now time.Time) error

// ApplicationService ведет заявки по таблицам переходов продуктовых линеек
type ApplicationService struct {
	db         *gorm.DB
	validator  *TransitionValidator
	loans      *LoanStatusService
	dispatcher Dispatcher
	handlers   map[string]TransitionHandler
	now        func() time.Time
}

// NewApplicationService создает новый экземпляр ApplicationService.
// Каждая ссылка на обработчик в таблицах переходов должна быть известна.
func NewApplicationService(db *gorm.DB, validator *TransitionValidator, loans *LoanStatusService, dispatcher Dispatcher) (*ApplicationService, error) {
	s := &ApplicationService{
		db:         db,
		validator:  validator,
		loans:      loans,
		dispatcher: dispatcher,
		now:        time.Now,
	}
	s.handlers = map[string]TransitionHandler{
		HandlerDisburseLoan: s.disburseLoan,
	}

	for _, name := range validator.Workflows().Handlers() {
		if _, ok := s.handlers[name]; !ok {
			return nil, fmt.Errorf("неизвестный обработчик перехода %q", name)
		}
	}
	return s, nil
}

// Create создает новую заявку в начальном статусе линейки
func (s *ApplicationService) Create(ctx context.Context, dto CreateApplicationDTO) (*models.Application, error) {
	if err := validateStruct(dto); err != nil {
		return nil, err
	}

	wf, err := s.validator.Workflows().Get(dto.ProductLine)
	if err != nil {
		return nil, err
	}
	if wf.Domain != models.DomainApplication {
		return nil, fmt.Errorf("%w: %s не является линейкой заявок", ErrUnknownWorkflow, dto.ProductLine)
	}

	app := &models.Application{
		CustomerID:            dto.CustomerID,
		ProductLine:           dto.ProductLine,
		LoanAmountRequested:   dto.LoanAmount,
		LoanDurationRequested: dto.LoanDuration,
		MonthlyInterestRateBP: dto.MonthlyInterestRateBP,
		StatusCode:            wf.InitialStatus,
	}
	if err := s.db.WithContext(ctx).Create(app).Error; err != nil {
		return nil, fmt.Errorf("ошибка при создании заявки: %v", err)
	}
	return app, nil
}

// ChangeStatus переводит заявку в новый статус, выполняя обработчик правила
func (s *ApplicationService) ChangeStatus(ctx context.Context, appID uint, destination int, actor models.Actor, changedBy uint, reason string) (*models.Application, error) {
	var app models.Application
	var old int

	err := ledgerTransaction(ctx, s.db, func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&app, appID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrApplicationNotFound
			}
			return err
		}

		rule, err := s.validator.Validate(app.ProductLine, app.StatusCode, destination, actor)
		if err != nil {
			return err
		}

		old = app.StatusCode
		if err := tx.Model(&app).Update("status_code", destination).Error; err != nil {
			return fmt.Errorf("ошибка при обновлении статуса заявки: %v", err)
		}
		app.StatusCode = destination

		if err := recordStatusChange(tx, models.DomainApplication, app.ID, old, destination, actor, changedBy, reason); err != nil {
			return err
		}

		if rule.Handler != "" {
			if err := s.handlers[rule.Handler](tx, &app, s.now()); err != nil {
				return fmt.Errorf("обработчик %s: %w", rule.Handler, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Уведомление после коммита
	s.dispatcher.Dispatch(NewMessage(MessageStatusChanged, StatusChangedPayload{
		Domain:     models.DomainApplication,
		ObjectID:   app.ID,
		CustomerID: app.CustomerID,
		StatusOld:  old,
		StatusNew:  destination,
	}))
	return &app, nil
}

// NextSteps возвращает доступные переходы заявки
func (s *ApplicationService) NextSteps(ctx context.Context, appID uint, actor models.Actor) ([]models.TransitionRule, error) {
	var app models.Application
	if err := s.db.WithContext(ctx).First(&app, appID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrApplicationNotFound
		}
		return nil, err
	}
	return s.validator.NextSteps(app.ProductLine, app.StatusCode, actor)
}

// GetLoanByApplication возвращает кредит с графиком платежей
func (s *ApplicationService) GetLoanByApplication(ctx context.Context, appID uint) (*models.Loan, error) {
	var loan models.Loan
	if err := s.db.WithContext(ctx).
		Preload("Payments", func(db *gorm.DB) *gorm.DB {
			return db.Order("payments.payment_number ASC")
		}).
		Where("application_id = ?", appID).
		First(&loan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLoanNotFound
		}
		return nil, err
	}
	return &loan, nil
}

// disburseLoan создает кредит, график платежей и способ оплаты
func (s *ApplicationService) disburseLoan(tx *gorm.DB, app *models.Application, now time.Time) error {
	var existing int64
	if err := tx.Model(&models.Loan{}).Where("application_id = ?", app.ID).Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return ErrLoanAlreadyExists
	}

	loan := &models.Loan{
		ApplicationID:         app.ID,
		CustomerID:            app.CustomerID,
		ProductLine:           app.ProductLine,
		LoanAmount:            app.LoanAmountRequested,
		LoanDuration:          app.LoanDurationRequested,
		MonthlyInterestRateBP: app.MonthlyInterestRateBP,
		StatusCode:            models.LoanInactive,
		DisbursedAt:           now,
	}
	if err := tx.Create(loan).Error; err != nil {
		return fmt.Errorf("ошибка при создании кредита: %v", err)
	}

	// Генерируем график платежей
	payments := GenerateSchedule(loan, s.loans.Location())
	if err := tx.Create(&payments).Error; err != nil {
		return fmt.Errorf("ошибка при создании графика платежей: %v", err)
	}

	method := &models.PaymentMethod{
		LoanID:         loan.ID,
		Name:           "virtual_account",
		VirtualAccount: generateVirtualAccount(),
		IsActive:       true,
	}
	if err := tx.Create(method).Error; err != nil {
		return fmt.Errorf("ошибка при создании способа оплаты: %v", err)
	}

	if err := s.loans.ChangeStatus(tx, loan, models.LoanCurrent, models.ActorSystem, 0, "disbursement"); err != nil {
		return err
	}

	utils.LogInfo("Выдан кредит %d по заявке %d: %d платежей", loan.ID, app.ID, len(payments))
	return nil
}

// GenerateSchedule строит график с фиксированными процентами:
// проценты взноса = сумма * ставка / 10000, остаток от деления
// основного долга приходится на последний взнос.
// Сроки платежей - календарные даты в часовом поясе loc.
func GenerateSchedule(loan *models.Loan, loc *time.Location) []models.Payment {
	months := loan.LoanDuration
	if months <= 0 {
		return nil
	}
	payments := make([]models.Payment, months)

	interest := loan.LoanAmount * loan.MonthlyInterestRateBP / 10000
	principal := loan.LoanAmount / int64(months)
	remainder := loan.LoanAmount - principal*int64(months)
	start := calendarDate(loan.DisbursedAt, loc)

	for i := 0; i < months; i++ {
		installmentPrincipal := principal
		if i == months-1 {
			installmentPrincipal += remainder
		}

		payments[i] = models.Payment{
			LoanID:               loan.ID,
			PaymentNumber:        i + 1,
			DueDate:              start.AddDate(0, i+1, 0),
			DueAmount:            installmentPrincipal + interest,
			InstallmentPrincipal: installmentPrincipal,
			InstallmentInterest:  interest,
			StatusCode:           models.PaymentNotDue,
		}
	}

	return payments
}

// generateVirtualAccount генерирует номер виртуального счета для оплаты
func generateVirtualAccount() string {
	// Генерируем 16 случайных цифр
	var number strings.Builder
	for i := 0; i < 16; i++ {
		number.WriteString(strconv.Itoa(rand.Intn(10)))
	}

	return number.String()
}
