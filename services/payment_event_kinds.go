package services

import (
	"fmt"
	"loanservicing/models"
)

// EventKind закрытый набор видов событий журнала
type EventKind int

const (
	KindPayment EventKind = iota
	KindLateFee
	KindCustomerWallet
	KindWaiveLateFeeUnpaid
	KindWaiveLateFeePaid
	KindWaiveInterestUnpaid
	KindWaiveInterestPaid
	KindWaivePrincipalUnpaid
	KindWaivePrincipalPaid

	kindCount
)

// voidSuffix добавляется к типу компенсирующего события
const voidSuffix = "_void"

// allocation распределение суммы события по компонентам платежа
type allocation struct {
	Principal int64
	Interest  int64
	LateFee   int64
}

func (a allocation) total() int64 {
	return a.Principal + a.Interest + a.LateFee
}

// eventKindSpec обработчик одного вида события
type eventKindSpec struct {
	eventType  string
	reversible bool
	// charge увеличивает долг (штраф), иначе событие гасит долг
	charge bool
	apply  func(p *models.Payment, amount int64) (allocation, error)
}

// eventKinds таблица обработчиков, индекс совпадает с EventKind
var eventKinds = [...]eventKindSpec{
	KindPayment:              {eventType: "payment", reversible: true, apply: allocateCash},
	KindLateFee:              {eventType: "late_fee", charge: true, apply: chargeLateFee},
	KindCustomerWallet:       {eventType: "customer_wallet", reversible: true, apply: allocateCash},
	KindWaiveLateFeeUnpaid:   {eventType: "waive_late_fee_unpaid", apply: allocateComponent(models.ComponentLateFee)},
	KindWaiveLateFeePaid:     {eventType: "waive_late_fee_paid", apply: allocateComponent(models.ComponentLateFee)},
	KindWaiveInterestUnpaid:  {eventType: "waive_interest_unpaid", apply: allocateComponent(models.ComponentInterest)},
	KindWaiveInterestPaid:    {eventType: "waive_interest_paid", apply: allocateComponent(models.ComponentInterest)},
	KindWaivePrincipalUnpaid: {eventType: "waive_principal_unpaid", apply: allocateComponent(models.ComponentPrincipal)},
	KindWaivePrincipalPaid:   {eventType: "waive_principal_paid", apply: allocateComponent(models.ComponentPrincipal)},
}

// Не компилируется, если в таблице не хватает видов событий
var _ = [1]struct{}{}[int(kindCount)-len(eventKinds)]

func init() {
	for kind, spec := range eventKinds {
		if spec.eventType == "" || spec.apply == nil {
			panic(fmt.Sprintf("не задан обработчик для вида события %d", kind))
		}
	}
}

func (k EventKind) spec() eventKindSpec {
	return eventKinds[k]
}

// String возвращает тип события, который пишется в журнал
func (k EventKind) String() string {
	if k < 0 || k >= kindCount {
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
	return eventKinds[k].eventType
}

// Reversible сообщает, можно ли сторнировать событие этого вида
func (k EventKind) Reversible() bool {
	return k.spec().reversible
}

// ParseEventKind находит вид события по типу из журнала.
// Компенсирующие события (_void) видом не являются.
func ParseEventKind(eventType string) (EventKind, bool) {
	for kind, spec := range eventKinds {
		if spec.eventType == eventType {
			return EventKind(kind), true
		}
	}
	return 0, false
}

// WaiverKind возвращает вид события прощения
func WaiverKind(component models.WaiverComponent, variant models.WaiverVariant) (EventKind, error) {
	paid := variant == models.VariantPaid
	switch component {
	case models.ComponentLateFee:
		if paid {
			return KindWaiveLateFeePaid, nil
		}
		return KindWaiveLateFeeUnpaid, nil
	case models.ComponentInterest:
		if paid {
			return KindWaiveInterestPaid, nil
		}
		return KindWaiveInterestUnpaid, nil
	case models.ComponentPrincipal:
		if paid {
			return KindWaivePrincipalPaid, nil
		}
		return KindWaivePrincipalUnpaid, nil
	}
	return 0, fmt.Errorf("неизвестная компонента прощения %q", component)
}

// allocateCash гасит штраф, затем проценты, затем основной долг
func allocateCash(p *models.Payment, amount int64) (allocation, error) {
	if amount > p.DueAmount {
		return allocation{}, fmt.Errorf("%w: %d > %d", ErrAmountExceedsDue, amount, p.DueAmount)
	}

	var a allocation
	rest := amount
	a.LateFee = min(rest, p.RemainingLateFee())
	rest -= a.LateFee
	a.Interest = min(rest, p.RemainingInterest())
	rest -= a.Interest
	a.Principal = min(rest, p.RemainingPrincipal())
	rest -= a.Principal
	if rest != 0 {
		return allocation{}, fmt.Errorf("%w: нераспределенный остаток %d", ErrLedgerInvariant, rest)
	}

	applyAllocation(p, a)
	return a, nil
}

// allocateComponent гасит только одну компоненту долга
func allocateComponent(component models.WaiverComponent) func(p *models.Payment, amount int64) (allocation, error) {
	return func(p *models.Payment, amount int64) (allocation, error) {
		outstanding := componentOutstanding(p, component)
		if amount > outstanding {
			return allocation{}, fmt.Errorf("%w: %s %d > %d", ErrAmountExceedsDue, component, amount, outstanding)
		}

		var a allocation
		switch component {
		case models.ComponentLateFee:
			a.LateFee = amount
		case models.ComponentInterest:
			a.Interest = amount
		case models.ComponentPrincipal:
			a.Principal = amount
		}
		applyAllocation(p, a)
		return a, nil
	}
}

func chargeLateFee(p *models.Payment, amount int64) (allocation, error) {
	p.LateFeeAmount += amount
	p.DueAmount += amount
	p.LateFeeAppliedCount++
	return allocation{}, nil
}

func applyAllocation(p *models.Payment, a allocation) {
	p.PaidLateFee += a.LateFee
	p.PaidInterest += a.Interest
	p.PaidPrincipal += a.Principal
	p.PaidAmount += a.total()
	p.DueAmount -= a.total()
}

func revertAllocation(p *models.Payment, a allocation) {
	applyAllocation(p, allocation{Principal: -a.Principal, Interest: -a.Interest, LateFee: -a.LateFee})
}

func componentOutstanding(p *models.Payment, component models.WaiverComponent) int64 {
	switch component {
	case models.ComponentLateFee:
		return p.RemainingLateFee()
	case models.ComponentInterest:
		return p.RemainingInterest()
	case models.ComponentPrincipal:
		return p.RemainingPrincipal()
	}
	return 0
}
