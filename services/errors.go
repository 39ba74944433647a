package services

import (
	"errors"
	"fmt"

	"loanservicing/models"
)

var (
	ErrIllegalTransition    = errors.New("переход статуса запрещен")
	ErrMaxLateFeeExceeded   = errors.New("превышен лимит штрафов по кредиту")
	ErrNonReversibleEvent   = errors.New("событие не может быть сторнировано")
	ErrOrderingPrecondition = errors.New("условие прощения долга не выполнено")
	ErrInvalidDateFormat    = errors.New("неверный формат даты, ожидается DD-MM-YYYY")
	ErrMissingPaymentMethod = errors.New("не указан способ оплаты")
	ErrUnknownStatus        = errors.New("неизвестный код статуса")
	ErrUnknownWorkflow      = errors.New("неизвестная таблица переходов")
	ErrPaymentNotFound      = errors.New("платеж не найден")
	ErrLoanNotFound         = errors.New("кредит не найден")
	ErrApplicationNotFound  = errors.New("заявка не найдена")
	ErrEventNotFound        = errors.New("событие не найдено")
	ErrInvalidAmount        = errors.New("неверная сумма")
	ErrAmountExceedsDue     = errors.New("сумма больше остатка по платежу")
	ErrLedgerInvariant      = errors.New("нарушен баланс платежа")
	ErrInsufficientCredits  = errors.New("недостаточно средств в кошельке")
	ErrValidation           = errors.New("неверные данные запроса")
	ErrLoanAlreadyExists    = errors.New("кредит по заявке уже выдан")
)

// IllegalTransitionError подробности запрещенного перехода
type IllegalTransitionError struct {
	Workflow    string
	Origin      int
	Destination int
	Actor       models.Actor
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("%s: %s %d -> %d (%s)", ErrIllegalTransition, e.Workflow, e.Origin, e.Destination, e.Actor)
}

func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// Шаги проверки прощения долга, в порядке выполнения
const (
	WaiverStepApproverRole = iota + 1
	WaiverStepAmount
	WaiverStepPaymentPaid
	WaiverStepLoanRenegotiated
	WaiverStepPaymentRange
	WaiverStepValidityDate
	WaiverStepComponentOrder
	WaiverStepRemaining
)

// OrderingPreconditionError первое невыполненное условие прощения
type OrderingPreconditionError struct {
	Step   int
	Reason string
}

func (e *OrderingPreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrOrderingPrecondition, e.Reason)
}

func (e *OrderingPreconditionError) Is(target error) bool {
	return target == ErrOrderingPrecondition
}

func rejectWaiver(step int, reason string) error {
	return &OrderingPreconditionError{Step: step, Reason: reason}
}
