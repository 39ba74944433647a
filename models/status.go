package models

// StatusDomain определяет пространство кодов статусов
type StatusDomain string

const (
	DomainApplication StatusDomain = "application"
	DomainLoan        StatusDomain = "loan"
	DomainPayment     StatusDomain = "payment"
)

// StatusCode описывает один код статуса внутри домена
type StatusCode struct {
	Domain      StatusDomain
	Code        int
	Description string
	Terminal    bool
	Graveyard   bool
}

// StatusClass результат классификации кода статуса
type StatusClass string

const (
	StatusClassActive    StatusClass = "active"
	StatusClassTerminal  StatusClass = "terminal"
	StatusClassGraveyard StatusClass = "graveyard"
	StatusClassUnknown   StatusClass = "unknown"
)

// Статусы заявки
const (
	ApplicationNotYetCreated        = 0
	ApplicationFormCreated          = 100
	ApplicationFormSubmitted        = 105
	ApplicationFormExpired          = 106
	ApplicationDocumentsSubmitted   = 120
	ApplicationDocumentsVerified    = 121
	ApplicationResubmissionRequest  = 131
	ApplicationFlaggedForFraud      = 133
	ApplicationDenied               = 135
	ApplicationCanceledByCustomer   = 137
	ApplicationOfferMade            = 141
	ApplicationOfferAccepted        = 150
	ApplicationAgreementSigned      = 160
	ApplicationFundDisbursalOngoing = 170
	ApplicationFundDisbursalFailed  = 171
	ApplicationFundDisbursalSuccess = 180
)

// Статусы кредита
const (
	LoanInactive     = 210
	LoanCurrent      = 220
	Loan1DPD         = 230
	Loan5DPD         = 231
	Loan30DPD        = 232
	Loan60DPD        = 233
	Loan90DPD        = 234
	Loan120DPD       = 235
	Loan150DPD       = 236
	Loan180DPD       = 237
	LoanPaidOff      = 250
	LoanRenegotiated = 260
	LoanSoldOff      = 270
)

// Статусы платежа
const (
	PaymentNotDue          = 310
	PaymentDueIn3Days      = 311
	PaymentDueToday        = 312
	Payment1DPD            = 320
	Payment5DPD            = 321
	Payment30DPD           = 322
	Payment60DPD           = 323
	Payment90DPD           = 324
	Payment120DPD          = 325
	Payment150DPD          = 326
	Payment180DPD          = 327
	PaymentPaidOnTime      = 330
	PaymentPaidWithinGrace = 331
	PaymentPaidLate        = 332
)

// IsPaidPaymentStatus проверяет, что статус платежа означает погашение
func IsPaidPaymentStatus(code int) bool {
	return code == PaymentPaidOnTime || code == PaymentPaidWithinGrace || code == PaymentPaidLate
}
