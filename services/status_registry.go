package services

import (
	"fmt"
	"loanservicing/models"
	"loanservicing/utils"
	"sort"
	"sync"
)

// StatusRegistry хранит справочник кодов статусов по доменам
type StatusRegistry struct {
	mu       sync.RWMutex
	statuses map[models.StatusDomain]map[int]models.StatusCode
}

// NewStatusRegistry создает пустой справочник
func NewStatusRegistry() *StatusRegistry {
	return &StatusRegistry{
		statuses: make(map[models.StatusDomain]map[int]models.StatusCode),
	}
}

// Register добавляет или заменяет описание кода
func (r *StatusRegistry) Register(status models.StatusCode) {
	r.mu.Lock()
	defer r.mu.Unlock()

	codes, ok := r.statuses[status.Domain]
	if !ok {
		codes = make(map[int]models.StatusCode)
		r.statuses[status.Domain] = codes
	}
	codes[status.Code] = status
}

// Get возвращает описание кода статуса
func (r *StatusRegistry) Get(domain models.StatusDomain, code int) (models.StatusCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status, ok := r.statuses[domain][code]
	if !ok {
		return models.StatusCode{}, fmt.Errorf("%w: %s %d", ErrUnknownStatus, domain, code)
	}
	return status, nil
}

// Classify относит код к активным, терминальным или "кладбищенским".
// Неизвестный код логируется и возвращается как StatusClassUnknown.
func (r *StatusRegistry) Classify(domain models.StatusDomain, code int) (models.StatusClass, error) {
	status, err := r.Get(domain, code)
	if err != nil {
		utils.LogWarn("Неизвестный статус %s/%d", domain, code)
		return models.StatusClassUnknown, err
	}

	switch {
	case status.Graveyard:
		return models.StatusClassGraveyard, nil
	case status.Terminal:
		return models.StatusClassTerminal, nil
	default:
		return models.StatusClassActive, nil
	}
}

// Codes возвращает отсортированные коды домена
func (r *StatusRegistry) Codes(domain models.StatusDomain) []int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	codes := make([]int, 0, len(r.statuses[domain]))
	for code := range r.statuses[domain] {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	return codes
}

// DefaultStatusRegistry возвращает справочник со всеми статусами сервиса
func DefaultStatusRegistry() *StatusRegistry {
	r := NewStatusRegistry()

	app := func(code int, description string) models.StatusCode {
		return models.StatusCode{Domain: models.DomainApplication, Code: code, Description: description}
	}
	for _, s := range []models.StatusCode{
		app(models.ApplicationNotYetCreated, "not yet created"),
		app(models.ApplicationFormCreated, "form created"),
		app(models.ApplicationFormSubmitted, "form submitted"),
		app(models.ApplicationDocumentsSubmitted, "documents submitted"),
		app(models.ApplicationDocumentsVerified, "documents verified"),
		app(models.ApplicationResubmissionRequest, "resubmission requested"),
		app(models.ApplicationOfferMade, "offer made to customer"),
		app(models.ApplicationOfferAccepted, "offer accepted by customer"),
		app(models.ApplicationAgreementSigned, "legal agreement signed"),
		app(models.ApplicationFundDisbursalOngoing, "fund disbursal ongoing"),
		app(models.ApplicationFundDisbursalFailed, "fund disbursal failed"),
	} {
		r.Register(s)
	}
	r.Register(models.StatusCode{Domain: models.DomainApplication, Code: models.ApplicationFundDisbursalSuccess, Description: "fund disbursal successful", Terminal: true})
	for code, description := range map[int]string{
		models.ApplicationFormExpired:        "form expired",
		models.ApplicationFlaggedForFraud:    "flagged for fraud",
		models.ApplicationDenied:             "application denied",
		models.ApplicationCanceledByCustomer: "canceled by customer",
	} {
		r.Register(models.StatusCode{Domain: models.DomainApplication, Code: code, Description: description, Terminal: true, Graveyard: true})
	}

	loan := func(code int, description string) models.StatusCode {
		return models.StatusCode{Domain: models.DomainLoan, Code: code, Description: description}
	}
	for _, s := range []models.StatusCode{
		loan(models.LoanInactive, "inactive"),
		loan(models.LoanCurrent, "current"),
		loan(models.Loan1DPD, "1 day past due"),
		loan(models.Loan5DPD, "5 days past due"),
		loan(models.Loan30DPD, "30 days past due"),
		loan(models.Loan60DPD, "60 days past due"),
		loan(models.Loan90DPD, "90 days past due"),
		loan(models.Loan120DPD, "120 days past due"),
		loan(models.Loan150DPD, "150 days past due"),
		loan(models.Loan180DPD, "180 days past due"),
		loan(models.LoanPaidOff, "paid off"),
		loan(models.LoanRenegotiated, "renegotiated"),
	} {
		r.Register(s)
	}
	r.Register(models.StatusCode{Domain: models.DomainLoan, Code: models.LoanSoldOff, Description: "sold off", Terminal: true, Graveyard: true})

	payment := func(code int, description string) models.StatusCode {
		return models.StatusCode{Domain: models.DomainPayment, Code: code, Description: description}
	}
	for _, s := range []models.StatusCode{
		payment(models.PaymentNotDue, "payment not due"),
		payment(models.PaymentDueIn3Days, "payment due in 3 days"),
		payment(models.PaymentDueToday, "payment due today"),
		payment(models.Payment1DPD, "payment 1 day past due"),
		payment(models.Payment5DPD, "payment 5 days past due"),
		payment(models.Payment30DPD, "payment 30 days past due"),
		payment(models.Payment60DPD, "payment 60 days past due"),
		payment(models.Payment90DPD, "payment 90 days past due"),
		payment(models.Payment120DPD, "payment 120 days past due"),
		payment(models.Payment150DPD, "payment 150 days past due"),
		payment(models.Payment180DPD, "payment 180 days past due"),
		payment(models.PaymentPaidOnTime, "paid on time"),
		payment(models.PaymentPaidWithinGrace, "paid within grace period"),
		payment(models.PaymentPaidLate, "paid late"),
	} {
		r.Register(s)
	}

	return r
}
