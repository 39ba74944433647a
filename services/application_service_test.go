package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"loanservicing/models"
)

func TestGenerateSchedule(t *testing.T) {
	loan := &models.Loan{
		ID:                    3,
		LoanAmount:            100000,
		LoanDuration:          3,
		MonthlyInterestRateBP: 150,
		DisbursedAt:           date(2024, 1, 31),
	}

	payments := GenerateSchedule(loan, time.UTC)
	require.Len(t, payments, 3)

	var principal int64
	for i, p := range payments {
		assert.Equal(t, i+1, p.PaymentNumber)
		assert.Equal(t, uint(3), p.LoanID)
		assert.Equal(t, int64(1500), p.InstallmentInterest)
		assert.Equal(t, p.InstallmentPrincipal+p.InstallmentInterest, p.DueAmount)
		assert.Equal(t, models.PaymentNotDue, p.StatusCode)
		require.NoError(t, p.CheckBalance())
		principal += p.InstallmentPrincipal
	}
	assert.Equal(t, int64(33333), payments[0].InstallmentPrincipal)
	assert.Equal(t, int64(33334), payments[2].InstallmentPrincipal)
	assert.Equal(t, loan.LoanAmount, principal)
	assert.True(t, payments[0].DueDate.Equal(date(2024, 1, 31).AddDate(0, 1, 0)))

	loan.LoanDuration = 0
	assert.Empty(t, GenerateSchedule(loan, time.UTC))
}

func TestApplicationFlowDisbursesLoan(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	customer := &models.User{FirstName: "Anna", LastName: "Ivanova", Email: "anna@example.com", Password: "x", Role: models.RoleCustomer}
	require.NoError(t, f.db.Create(customer).Error)

	apps, err := NewApplicationService(f.db, f.validator, f.loans, f.dispatcher)
	require.NoError(t, err)

	app, err := apps.Create(ctx, CreateApplicationDTO{
		CustomerID:            customer.ID,
		ProductLine:           "mtl",
		LoanAmount:            120000,
		LoanDuration:          4,
		MonthlyInterestRateBP: 200,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationNotYetCreated, app.StatusCode)

	steps := []struct {
		status int
		actor  models.Actor
	}{
		{models.ApplicationFormCreated, models.ActorCustomer},
		{models.ApplicationFormSubmitted, models.ActorCustomer},
		{models.ApplicationDocumentsSubmitted, models.ActorCustomer},
		{models.ApplicationDocumentsVerified, models.ActorAgent},
		{models.ApplicationOfferMade, models.ActorAgent},
		{models.ApplicationOfferAccepted, models.ActorCustomer},
		{models.ApplicationAgreementSigned, models.ActorCustomer},
		{models.ApplicationFundDisbursalOngoing, models.ActorAgent},
	}
	for _, step := range steps {
		app, err = apps.ChangeStatus(ctx, app.ID, step.status, step.actor, customer.ID, "")
		require.NoError(t, err, "status %d", step.status)
	}

	_, err = apps.GetLoanByApplication(ctx, app.ID)
	assert.ErrorIs(t, err, ErrLoanNotFound)

	// Клиент не может сам подтвердить выдачу
	_, err = apps.ChangeStatus(ctx, app.ID, models.ApplicationFundDisbursalSuccess, models.ActorCustomer, customer.ID, "")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	app, err = apps.ChangeStatus(ctx, app.ID, models.ApplicationFundDisbursalSuccess, models.ActorAgent, 99, "funds sent")
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationFundDisbursalSuccess, app.StatusCode)

	loan, err := apps.GetLoanByApplication(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanCurrent, loan.StatusCode)
	assert.Equal(t, customer.ID, loan.CustomerID)
	require.Len(t, loan.Payments, 4)
	assert.Equal(t, 1, loan.Payments[0].PaymentNumber)
	assert.Equal(t, int64(2400), loan.Payments[0].InstallmentInterest)

	var methods []models.PaymentMethod
	require.NoError(t, f.db.Where("loan_id = ?", loan.ID).Find(&methods).Error)
	require.Len(t, methods, 1)
	assert.Len(t, methods[0].VirtualAccount, 16)

	history, err := StatusHistory(f.db, models.DomainLoan, loan.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.LoanInactive, history[0].StatusOld)
	assert.Equal(t, models.LoanCurrent, history[0].StatusNew)

	appHistory, err := StatusHistory(f.db, models.DomainApplication, app.ID)
	require.NoError(t, err)
	assert.Len(t, appHistory, len(steps)+1)
	assert.Equal(t, uint(99), appHistory[len(appHistory)-1].ChangedBy)

	// Терминальная заявка дальше не двигается
	_, err = apps.ChangeStatus(ctx, app.ID, models.ApplicationFundDisbursalOngoing, models.ActorSystem, 0, "")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	assert.Len(t, f.dispatcher.ofType(MessageStatusChanged), len(steps)+1)
}

func TestCreateApplicationValidation(t *testing.T) {
	f := newLedgerFixture(t)
	apps, err := NewApplicationService(f.db, f.validator, f.loans, f.dispatcher)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = apps.Create(ctx, CreateApplicationDTO{CustomerID: 1, ProductLine: "mtl", LoanAmount: 0, LoanDuration: 3})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = apps.Create(ctx, CreateApplicationDTO{CustomerID: 1, ProductLine: "cards", LoanAmount: 1000, LoanDuration: 3})
	assert.ErrorIs(t, err, ErrUnknownWorkflow)

	_, err = apps.Create(ctx, CreateApplicationDTO{CustomerID: 1, ProductLine: WorkflowLoan, LoanAmount: 1000, LoanDuration: 3})
	assert.ErrorIs(t, err, ErrUnknownWorkflow)

	steps, err := apps.NextSteps(ctx, 404, models.ActorCustomer)
	assert.ErrorIs(t, err, ErrApplicationNotFound)
	assert.Nil(t, steps)
}
