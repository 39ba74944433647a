package services

import (
	"loanservicing/models"
	"loanservicing/utils"
	"sort"
)

// TransitionValidator проверяет переходы по таблицам
type TransitionValidator struct {
	workflows *WorkflowTable
	registry  *StatusRegistry
	metrics   *utils.LedgerMetrics
}

// NewTransitionValidator создает новый экземпляр TransitionValidator
func NewTransitionValidator(workflows *WorkflowTable, registry *StatusRegistry, metrics *utils.LedgerMetrics) *TransitionValidator {
	return &TransitionValidator{
		workflows: workflows,
		registry:  registry,
		metrics:   metrics,
	}
}

// Workflows возвращает загруженные таблицы
func (v *TransitionValidator) Workflows() *WorkflowTable {
	return v.workflows
}

// Validate проверяет переход origin -> destination для инициатора.
// Учитываются все совпавшие правила, флаги доступности объединяются.
// Возвращает объединенное правило, обработчик берется из первого правила, где он указан.
func (v *TransitionValidator) Validate(workflow string, origin, destination int, actor models.Actor) (models.TransitionRule, error) {
	wf, err := v.workflows.Get(workflow)
	if err != nil {
		return models.TransitionRule{}, err
	}

	illegal := &IllegalTransitionError{Workflow: workflow, Origin: origin, Destination: destination, Actor: actor}

	// Статус без описания не двигаем
	if class, err := v.registry.Classify(wf.Domain, origin); err != nil || class != models.StatusClassActive {
		v.metrics.RecordTransitionRejected(workflow)
		return models.TransitionRule{}, illegal
	}

	matches := wf.RulesBetween(origin, destination)
	if len(matches) == 0 {
		v.metrics.RecordTransitionRejected(workflow)
		return models.TransitionRule{}, illegal
	}

	merged := mergeRules(matches)
	if !allows(merged, actor) {
		v.metrics.RecordTransitionRejected(workflow)
		return models.TransitionRule{}, illegal
	}
	return merged, nil
}

// NextSteps возвращает доступные инициатору следующие статусы.
// Переходы на "кладбище" сюда не попадают.
func (v *TransitionValidator) NextSteps(workflow string, origin int, actor models.Actor) ([]models.TransitionRule, error) {
	wf, err := v.workflows.Get(workflow)
	if err != nil {
		return nil, err
	}

	byDestination := make(map[int][]models.TransitionRule)
	for _, rule := range wf.Rules {
		if rule.Origin != origin || rule.PathType == models.PathGraveyard {
			continue
		}
		byDestination[rule.Destination] = append(byDestination[rule.Destination], rule)
	}

	steps := make([]models.TransitionRule, 0, len(byDestination))
	for _, rules := range byDestination {
		merged := mergeRules(rules)
		if allows(merged, actor) {
			steps = append(steps, merged)
		}
	}
	sort.Slice(steps, func(i, j int) bool {
		return steps[i].Destination < steps[j].Destination
	})
	return steps, nil
}

func mergeRules(rules []models.TransitionRule) models.TransitionRule {
	merged := rules[0]
	for _, rule := range rules[1:] {
		merged.CustomerAccessible = merged.CustomerAccessible || rule.CustomerAccessible
		merged.AgentAccessible = merged.AgentAccessible || rule.AgentAccessible
		if merged.Handler == "" {
			merged.Handler = rule.Handler
		}
		// happy важнее detour для отображения
		if rule.PathType == models.PathHappy {
			merged.PathType = models.PathHappy
		}
	}
	return merged
}

func allows(rule models.TransitionRule, actor models.Actor) bool {
	switch actor {
	case models.ActorSystem:
		return true
	case models.ActorAgent:
		return rule.AgentAccessible
	case models.ActorCustomer:
		return rule.CustomerAccessible
	default:
		return false
	}
}
