package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"loanservicing/models"
)

func supervisorWaiver(paymentID uint, component models.WaiverComponent, variant models.WaiverVariant, amount int64) WaiverRequest {
	return WaiverRequest{
		PaymentID:    paymentID,
		Component:    component,
		Variant:      variant,
		Amount:       amount,
		ApproverRole: models.RoleCollectionsSupervisor,
		ApprovedBy:   7,
	}
}

func requireRejectedAt(t *testing.T, err error, step int) {
	t.Helper()
	require.ErrorIs(t, err, ErrOrderingPrecondition)
	var rejected *OrderingPreconditionError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, step, rejected.Step, rejected.Reason)
}

func TestPaidLateFeeWaiverRequiresSettledPrincipal(t *testing.T) {
	f := newLedgerFixture(t)
	l := f.createLoan(t, 100000, 1, 0, date(2024, 1, 1))
	f.setNow(date(2024, 2, 11))
	paymentID := l.payments[0].ID

	_, err := f.record(t, paymentID, KindLateFee, 15000, date(2024, 2, 11))
	require.NoError(t, err)

	_, err = f.applyWaiver(t, supervisorWaiver(paymentID, models.ComponentLateFee, models.VariantPaid, 15000))
	requireRejectedAt(t, err, WaiverStepComponentOrder)

	var records int64
	require.NoError(t, f.db.Model(&models.WaiverRecord{}).Count(&records).Error)
	assert.Zero(t, records)

	events, err := ListEvents(f.db, paymentID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestUnpaidWaiverRemainingBoundary(t *testing.T) {
	newPayment := func(t *testing.T) (*ledgerFixture, uint) {
		f := newLedgerFixture(t)
		l := f.createLoan(t, 90000, 3, 100, date(2024, 1, 1))
		return f, l.payments[0].ID
	}

	t.Run("amount equal to remaining is rejected", func(t *testing.T) {
		f, paymentID := newPayment(t)
		require.Equal(t, int64(2700), f.remaining(t, paymentID, models.ComponentInterest, true, intPtr(3)))

		req := supervisorWaiver(paymentID, models.ComponentInterest, models.VariantUnpaid, 2700)
		req.MaxPaymentNumber = intPtr(3)
		_, err := f.applyWaiver(t, req)
		requireRejectedAt(t, err, WaiverStepRemaining)
	})

	t.Run("amount below remaining creates a grant", func(t *testing.T) {
		f, paymentID := newPayment(t)

		req := supervisorWaiver(paymentID, models.ComponentInterest, models.VariantUnpaid, 2699)
		req.MaxPaymentNumber = intPtr(3)
		result, err := f.applyWaiver(t, req)
		require.NoError(t, err)

		assert.Nil(t, result.Event)
		assert.Equal(t, int64(2699), result.Record.Amount)
		assert.Equal(t, int64(0), result.Record.AppliedAmount)
		assert.Equal(t, 1, result.Record.FromPaymentNumber)
		assert.Equal(t, 3, result.Record.MaxPaymentNumber)

		events, err := ListEvents(f.db, paymentID)
		require.NoError(t, err)
		assert.Empty(t, events)

		assert.Equal(t, int64(1), f.remaining(t, paymentID, models.ComponentInterest, true, intPtr(3)))
	})
}

func TestPaidWaiverRemainingBoundary(t *testing.T) {
	newPayment := func(t *testing.T) (*ledgerFixture, uint) {
		f := newLedgerFixture(t)
		l := f.createLoan(t, 90000, 3, 100, date(2024, 1, 1))
		return f, l.payments[0].ID
	}

	t.Run("amount above remaining is rejected", func(t *testing.T) {
		f, paymentID := newPayment(t)
		_, err := f.applyWaiver(t, supervisorWaiver(paymentID, models.ComponentPrincipal, models.VariantPaid, 30001))
		requireRejectedAt(t, err, WaiverStepRemaining)
	})

	t.Run("amount equal to remaining is applied", func(t *testing.T) {
		f, paymentID := newPayment(t)
		result, err := f.applyWaiver(t, supervisorWaiver(paymentID, models.ComponentPrincipal, models.VariantPaid, 30000))
		require.NoError(t, err)

		require.NotNil(t, result.Event)
		assert.Equal(t, "waive_principal_paid", result.Event.EventType)
		assert.Equal(t, int64(30000), result.Event.AllocatedPrincipal)
		assert.False(t, result.Event.CanReverse)
		assert.Equal(t, int64(30000), result.Record.AppliedAmount)

		p := f.payment(t, paymentID)
		assert.Equal(t, int64(900), p.DueAmount)
		assert.Equal(t, int64(0), p.RemainingPrincipal())
		assert.Nil(t, p.PaidDate)
		assertLedgerInvariants(t, f.db, paymentID)

		assert.Equal(t, int64(0), f.remaining(t, paymentID, models.ComponentPrincipal, false, nil))
	})
}

func TestWaiverRoundTripReducesRemaining(t *testing.T) {
	f := newLedgerFixture(t)
	l := f.createLoan(t, 90000, 3, 100, date(2024, 1, 1))
	paymentID := l.payments[0].ID

	before := f.remaining(t, paymentID, models.ComponentInterest, true, intPtr(3))
	req := supervisorWaiver(paymentID, models.ComponentInterest, models.VariantUnpaid, 1000)
	req.MaxPaymentNumber = intPtr(3)
	_, err := f.applyWaiver(t, req)
	require.NoError(t, err)
	assert.Equal(t, before-1000, f.remaining(t, paymentID, models.ComponentInterest, true, intPtr(3)))

	before = f.remaining(t, paymentID, models.ComponentPrincipal, false, nil)
	_, err = f.applyWaiver(t, supervisorWaiver(paymentID, models.ComponentPrincipal, models.VariantPaid, 10000))
	require.NoError(t, err)
	assert.Equal(t, before-10000, f.remaining(t, paymentID, models.ComponentPrincipal, false, nil))
}

func TestWaiverPreconditionsAreCheckedInOrder(t *testing.T) {
	t.Run("approver role", func(t *testing.T) {
		f := newLedgerFixture(t)
		l := f.createLoan(t, 90000, 3, 100, date(2024, 1, 1))

		req := supervisorWaiver(l.payments[0].ID, models.ComponentInterest, models.VariantUnpaid, 0)
		req.ApproverRole = models.RoleCollectionsAgent
		_, err := f.applyWaiver(t, req)
		requireRejectedAt(t, err, WaiverStepApproverRole)
	})

	t.Run("amount", func(t *testing.T) {
		f := newLedgerFixture(t)
		l := f.createLoan(t, 90000, 3, 100, date(2024, 1, 1))

		_, err := f.applyWaiver(t, supervisorWaiver(l.payments[0].ID, models.ComponentInterest, models.VariantUnpaid, 0))
		requireRejectedAt(t, err, WaiverStepAmount)
	})

	t.Run("payment already paid", func(t *testing.T) {
		f := newLedgerFixture(t)
		l := f.createLoan(t, 90000, 3, 100, date(2024, 1, 1))
		paymentID := l.payments[0].ID

		_, err := f.record(t, paymentID, KindPayment, 30900, date(2024, 1, 15))
		require.NoError(t, err)

		_, err = f.applyWaiver(t, supervisorWaiver(paymentID, models.ComponentInterest, models.VariantUnpaid, 100))
		requireRejectedAt(t, err, WaiverStepPaymentPaid)
	})

	t.Run("loan renegotiated", func(t *testing.T) {
		f := newLedgerFixture(t)
		l := f.createLoan(t, 90000, 3, 100, date(2024, 1, 1))
		require.NoError(t, f.db.Model(&models.Loan{}).Where("id = ?", l.loan.ID).
			Update("status_code", models.LoanRenegotiated).Error)

		_, err := f.applyWaiver(t, supervisorWaiver(l.payments[0].ID, models.ComponentInterest, models.VariantUnpaid, 100))
		requireRejectedAt(t, err, WaiverStepLoanRenegotiated)
	})

	t.Run("payment range", func(t *testing.T) {
		f := newLedgerFixture(t)
		l := f.createLoan(t, 90000, 3, 100, date(2024, 1, 1))

		req := supervisorWaiver(l.payments[1].ID, models.ComponentInterest, models.VariantUnpaid, 100)
		req.MaxPaymentNumber = intPtr(1)
		_, err := f.applyWaiver(t, req)
		requireRejectedAt(t, err, WaiverStepPaymentRange)
	})

	t.Run("validity date", func(t *testing.T) {
		f := newLedgerFixture(t)
		l := f.createLoan(t, 90000, 3, 100, date(2024, 1, 1))
		f.setNow(date(2024, 1, 10))
		paymentID := l.payments[0].ID

		yesterday := date(2024, 1, 9)
		req := supervisorWaiver(paymentID, models.ComponentInterest, models.VariantUnpaid, 100)
		req.ValidityDate = &yesterday
		_, err := f.applyWaiver(t, req)
		requireRejectedAt(t, err, WaiverStepValidityDate)

		tooFar := date(2024, 1, 10).AddDate(0, 0, 40)
		req.ValidityDate = &tooFar
		_, err = f.applyWaiver(t, req)
		requireRejectedAt(t, err, WaiverStepValidityDate)

		lastDay := date(2024, 1, 10).AddDate(0, 0, 39)
		req.ValidityDate = &lastDay
		_, err = f.applyWaiver(t, req)
		require.NoError(t, err)
	})

	t.Run("paid interest before principal", func(t *testing.T) {
		f := newLedgerFixture(t)
		l := f.createLoan(t, 90000, 3, 100, date(2024, 1, 1))

		_, err := f.applyWaiver(t, supervisorWaiver(l.payments[0].ID, models.ComponentInterest, models.VariantPaid, 100))
		requireRejectedAt(t, err, WaiverStepComponentOrder)
	})
}

func TestUnpaidPrincipalWaiverRequiresFeeAndInterestGrants(t *testing.T) {
	f := newLedgerFixture(t)
	l := f.createLoan(t, 90000, 3, 100, date(2024, 1, 1))
	f.setNow(date(2024, 2, 11))
	first, second := l.payments[0].ID, l.payments[1].ID

	// Первый взнос погашен, затем начислен штраф
	_, err := f.record(t, first, KindPayment, 30900, date(2024, 2, 1))
	require.NoError(t, err)
	_, err = f.record(t, first, KindLateFee, 1000, date(2024, 2, 11))
	require.NoError(t, err)
	assert.Equal(t, models.Payment5DPD, f.payment(t, first).StatusCode)

	_, err = f.applyWaiver(t, supervisorWaiver(second, models.ComponentPrincipal, models.VariantUnpaid, 1000))
	requireRejectedAt(t, err, WaiverStepComponentOrder)

	lateFee := supervisorWaiver(first, models.ComponentLateFee, models.VariantUnpaid, 500)
	lateFee.MaxPaymentNumber = intPtr(2)
	_, err = f.applyWaiver(t, lateFee)
	require.NoError(t, err)

	_, err = f.applyWaiver(t, supervisorWaiver(second, models.ComponentPrincipal, models.VariantUnpaid, 1000))
	requireRejectedAt(t, err, WaiverStepComponentOrder)

	_, err = f.applyWaiver(t, supervisorWaiver(second, models.ComponentInterest, models.VariantUnpaid, 100))
	require.NoError(t, err)

	result, err := f.applyWaiver(t, supervisorWaiver(second, models.ComponentPrincipal, models.VariantUnpaid, 1000))
	require.NoError(t, err)
	assert.Equal(t, models.ComponentPrincipal, result.Record.Component)
}

func TestUnpaidPrincipalWaiverIgnoresStaleGrants(t *testing.T) {
	f := newLedgerFixture(t)
	l := f.createLoan(t, 90000, 3, 100, date(2024, 1, 1))
	f.setNow(date(2024, 2, 11))
	first, second := l.payments[0].ID, l.payments[1].ID

	_, err := f.record(t, first, KindPayment, 30900, date(2024, 2, 1))
	require.NoError(t, err)
	_, err = f.record(t, first, KindLateFee, 1000, date(2024, 2, 11))
	require.NoError(t, err)

	// Штраф прощен только по первому взносу
	_, err = f.applyWaiver(t, supervisorWaiver(first, models.ComponentLateFee, models.VariantUnpaid, 500))
	require.NoError(t, err)

	validity := date(2024, 2, 12)
	interest := supervisorWaiver(second, models.ComponentInterest, models.VariantUnpaid, 100)
	interest.ValidityDate = &validity
	_, err = f.applyWaiver(t, interest)
	require.NoError(t, err)

	_, err = f.applyWaiver(t, supervisorWaiver(second, models.ComponentPrincipal, models.VariantUnpaid, 1000))
	requireRejectedAt(t, err, WaiverStepComponentOrder)

	lateFee := supervisorWaiver(first, models.ComponentLateFee, models.VariantUnpaid, 100)
	lateFee.MaxPaymentNumber = intPtr(2)
	_, err = f.applyWaiver(t, lateFee)
	require.NoError(t, err)

	_, err = f.applyWaiver(t, supervisorWaiver(second, models.ComponentPrincipal, models.VariantUnpaid, 1000))
	require.NoError(t, err)

	// Прощение процентов истекло
	f.setNow(date(2024, 2, 13))
	_, err = f.applyWaiver(t, supervisorWaiver(second, models.ComponentPrincipal, models.VariantUnpaid, 1000))
	requireRejectedAt(t, err, WaiverStepComponentOrder)
}

func TestGrantOutsideRangeIsCappedByOverlap(t *testing.T) {
	f := newLedgerFixture(t)
	l := f.createLoan(t, 90000, 3, 100, date(2024, 1, 1))

	req := supervisorWaiver(l.payments[1].ID, models.ComponentInterest, models.VariantUnpaid, 1200)
	req.MaxPaymentNumber = intPtr(3)
	_, err := f.applyWaiver(t, req)
	require.NoError(t, err)

	// Во второй взнос из прощения помещается не больше его процентов
	assert.Equal(t, int64(900), f.remaining(t, l.payments[0].ID, models.ComponentInterest, true, intPtr(2)))
	assert.Equal(t, int64(1500), f.remaining(t, l.payments[0].ID, models.ComponentInterest, true, intPtr(3)))
	assert.Equal(t, int64(900), f.remaining(t, l.payments[0].ID, models.ComponentInterest, true, nil))
	assert.Equal(t, int64(0), f.remaining(t, l.payments[1].ID, models.ComponentInterest, true, nil))
}

func TestGrantedWaiversApplyAtPaymentTime(t *testing.T) {
	f := newLedgerFixture(t)
	l := f.createLoan(t, 90000, 3, 100, date(2024, 1, 1))
	ctx := context.Background()

	req := supervisorWaiver(l.payments[0].ID, models.ComponentInterest, models.VariantUnpaid, 1000)
	req.MaxPaymentNumber = intPtr(3)
	grant, err := f.applyWaiver(t, req)
	require.NoError(t, err)

	result, err := f.events.AddEvent(ctx, PaymentEventRequest{
		PaymentID:       l.payments[0].ID,
		EventType:       RequestEventPayment,
		Amount:          5000,
		PaidDate:        "01-02-2024",
		PaymentMethodID: &l.method.ID,
	})
	require.NoError(t, err)
	require.Len(t, result.WaiverEvents, 1)
	assert.Equal(t, "waive_interest_unpaid", result.WaiverEvents[0].EventType)
	assert.Equal(t, int64(900), result.WaiverEvents[0].AllocatedInterest)
	assert.Equal(t, int64(5000), result.Event.AllocatedPrincipal)
	assertLedgerInvariants(t, f.db, l.payments[0].ID)

	var record models.WaiverRecord
	require.NoError(t, f.db.First(&record, grant.Record.ID).Error)
	assert.Equal(t, int64(900), record.AppliedAmount)

	result, err = f.events.AddEvent(ctx, PaymentEventRequest{
		PaymentID:       l.payments[1].ID,
		EventType:       RequestEventPayment,
		Amount:          1000,
		PaidDate:        "01-03-2024",
		PaymentMethodID: &l.method.ID,
	})
	require.NoError(t, err)
	require.Len(t, result.WaiverEvents, 1)
	assert.Equal(t, int64(100), result.WaiverEvents[0].AllocatedInterest)

	require.NoError(t, f.db.First(&record, grant.Record.ID).Error)
	assert.Equal(t, int64(1000), record.AppliedAmount)
	assert.Equal(t, int64(900), f.remaining(t, l.payments[2].ID, models.ComponentInterest, true, intPtr(3)))
}

func TestExpiredGrantIsNotApplied(t *testing.T) {
	f := newLedgerFixture(t)
	l := f.createLoan(t, 90000, 3, 100, date(2024, 1, 1))
	f.setNow(date(2024, 1, 10))

	validity := date(2024, 1, 11)
	req := supervisorWaiver(l.payments[0].ID, models.ComponentInterest, models.VariantUnpaid, 500)
	req.ValidityDate = &validity
	_, err := f.applyWaiver(t, req)
	require.NoError(t, err)

	assert.Equal(t, int64(400), f.remaining(t, l.payments[0].ID, models.ComponentInterest, true, nil))

	f.setNow(date(2024, 1, 20))
	assert.Equal(t, int64(900), f.remaining(t, l.payments[0].ID, models.ComponentInterest, true, nil))

	result, err := f.events.AddEvent(context.Background(), PaymentEventRequest{
		PaymentID:       l.payments[0].ID,
		EventType:       RequestEventPayment,
		Amount:          1000,
		PaidDate:        "20-01-2024",
		PaymentMethodID: &l.method.ID,
	})
	require.NoError(t, err)
	assert.Empty(t, result.WaiverEvents)
	assert.Equal(t, int64(900), result.Event.AllocatedInterest)
}
