package services

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"loanservicing/models"
)

func newTestValidator(t *testing.T) *TransitionValidator {
	t.Helper()
	registry := DefaultStatusRegistry()
	workflows, err := DefaultWorkflows(registry)
	require.NoError(t, err)
	return NewTransitionValidator(workflows, registry, nil)
}

func TestClassifyStatuses(t *testing.T) {
	registry := DefaultStatusRegistry()

	tests := []struct {
		domain models.StatusDomain
		code   int
		want   models.StatusClass
	}{
		{models.DomainApplication, models.ApplicationFormCreated, models.StatusClassActive},
		{models.DomainApplication, models.ApplicationFundDisbursalSuccess, models.StatusClassTerminal},
		{models.DomainApplication, models.ApplicationDenied, models.StatusClassGraveyard},
		{models.DomainApplication, models.ApplicationCanceledByCustomer, models.StatusClassGraveyard},
		{models.DomainLoan, models.LoanPaidOff, models.StatusClassActive},
		{models.DomainLoan, models.LoanSoldOff, models.StatusClassGraveyard},
		{models.DomainPayment, models.PaymentPaidLate, models.StatusClassActive},
	}
	for _, tt := range tests {
		class, err := registry.Classify(tt.domain, tt.code)
		require.NoError(t, err)
		assert.Equal(t, tt.want, class, "%s/%d", tt.domain, tt.code)
	}

	class, err := registry.Classify(models.DomainLoan, 999)
	assert.ErrorIs(t, err, ErrUnknownStatus)
	assert.Equal(t, models.StatusClassUnknown, class)

	// Коды платежей не видны в домене кредита
	_, err = registry.Get(models.DomainLoan, models.PaymentNotDue)
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestDefaultWorkflows(t *testing.T) {
	v := newTestValidator(t)
	assert.Equal(t, []string{"loan", "mtl", "partner", "payment"}, v.Workflows().Names())
	assert.Equal(t, []string{HandlerDisburseLoan}, v.Workflows().Handlers())

	loan, err := v.Workflows().Get(WorkflowLoan)
	require.NoError(t, err)
	assert.Equal(t, models.LoanInactive, loan.InitialStatus)

	payment, err := v.Workflows().Get(WorkflowPayment)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentNotDue, payment.InitialStatus)

	_, err = v.Workflows().Get("cards")
	assert.ErrorIs(t, err, ErrUnknownWorkflow)
}

func TestValidateRejectsUnlistedTransitionForEveryActor(t *testing.T) {
	v := newTestValidator(t)

	for _, actor := range []models.Actor{models.ActorCustomer, models.ActorAgent, models.ActorSystem} {
		_, err := v.Validate(WorkflowLoan, models.LoanCurrent, models.LoanInactive, actor)
		assert.ErrorIs(t, err, ErrIllegalTransition, actor)

		_, err = v.Validate("mtl", models.ApplicationFundDisbursalSuccess, models.ApplicationFormCreated, actor)
		assert.ErrorIs(t, err, ErrIllegalTransition, actor)
	}
}

func TestValidateActorFlags(t *testing.T) {
	v := newTestValidator(t)

	_, err := v.Validate("mtl", models.ApplicationDocumentsSubmitted, models.ApplicationDocumentsVerified, models.ActorCustomer)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	_, err = v.Validate("mtl", models.ApplicationDocumentsSubmitted, models.ApplicationDocumentsVerified, models.ActorAgent)
	assert.NoError(t, err)

	// Правила без флагов доступны только системе
	_, err = v.Validate(WorkflowPayment, models.PaymentNotDue, models.Payment1DPD, models.ActorAgent)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	_, err = v.Validate(WorkflowPayment, models.PaymentNotDue, models.Payment1DPD, models.ActorSystem)
	assert.NoError(t, err)
}

func TestValidateMergesFlagsOfDuplicateRules(t *testing.T) {
	v := newTestValidator(t)

	// 141 -> 150 описан дважды: happy для клиента и detour для агента
	for _, actor := range []models.Actor{models.ActorCustomer, models.ActorAgent} {
		rule, err := v.Validate("mtl", models.ApplicationOfferMade, models.ApplicationOfferAccepted, actor)
		require.NoError(t, err, actor)
		assert.Equal(t, models.PathHappy, rule.PathType)
		assert.True(t, rule.CustomerAccessible)
		assert.True(t, rule.AgentAccessible)
	}
}

func TestValidateReturnsHandler(t *testing.T) {
	v := newTestValidator(t)

	rule, err := v.Validate("partner", models.ApplicationFundDisbursalOngoing, models.ApplicationFundDisbursalSuccess, models.ActorAgent)
	require.NoError(t, err)
	assert.Equal(t, HandlerDisburseLoan, rule.Handler)
}

func TestNextStepsExcludesGraveyard(t *testing.T) {
	v := newTestValidator(t)

	steps, err := v.NextSteps("mtl", models.ApplicationOfferMade, models.ActorCustomer)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, models.ApplicationOfferAccepted, steps[0].Destination)

	steps, err = v.NextSteps("mtl", models.ApplicationDocumentsVerified, models.ActorAgent)
	require.NoError(t, err)
	var destinations []int
	for _, s := range steps {
		destinations = append(destinations, s.Destination)
	}
	assert.Equal(t, []int{models.ApplicationResubmissionRequest, models.ApplicationOfferMade}, destinations)

	steps, err = v.NextSteps(WorkflowLoan, models.LoanSoldOff, models.ActorSystem)
	require.NoError(t, err)
	assert.Empty(t, steps)
}

func TestLoadWorkflowsExpandsPairs(t *testing.T) {
	registry := DefaultStatusRegistry()
	table, err := LoadWorkflows(strings.NewReader(`
<workflows>
  <workflow name="loan" domain="loan" initial="210">
    <rule from="220 230" to="220 230 250" path="happy"/>
  </workflow>
</workflows>`), registry)
	require.NoError(t, err)

	wf, err := table.Get("loan")
	require.NoError(t, err)
	assert.Len(t, wf.Rules, 4)
	for _, rule := range wf.Rules {
		assert.NotEqual(t, rule.Origin, rule.Destination)
		assert.False(t, rule.CustomerAccessible)
		assert.False(t, rule.AgentAccessible)
	}
}

func TestLoadWorkflowsRejectsInvalidTables(t *testing.T) {
	registry := DefaultStatusRegistry()

	tests := []struct {
		name string
		xml  string
	}{
		{"transition out of terminal status", `<workflows><workflow name="mtl" domain="application" initial="0">
			<rule from="180" to="100" path="detour" agent="true"/></workflow></workflows>`},
		{"transition out of graveyard status", `<workflows><workflow name="loan" domain="loan" initial="210">
			<rule from="270" to="220" path="detour" agent="true"/></workflow></workflows>`},
		{"unknown destination", `<workflows><workflow name="loan" domain="loan" initial="210">
			<rule from="220" to="299" path="happy"/></workflow></workflows>`},
		{"unknown path type", `<workflows><workflow name="loan" domain="loan" initial="210">
			<rule from="220" to="230" path="shortcut"/></workflow></workflows>`},
		{"bad flag", `<workflows><workflow name="loan" domain="loan" initial="210">
			<rule from="220" to="230" path="happy" agent="maybe"/></workflow></workflows>`},
		{"unknown domain", `<workflows><workflow name="cards" domain="card" initial="0"/></workflows>`},
		{"duplicate workflow", `<workflows>
			<workflow name="loan" domain="loan" initial="210"/>
			<workflow name="loan" domain="loan" initial="210"/></workflows>`},
		{"empty", `<workflows/>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadWorkflows(strings.NewReader(tt.xml), registry)
			assert.Error(t, err)
		})
	}
}
