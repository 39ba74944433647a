package models

// PathType тип пути в таблице переходов
type PathType string

const (
	PathHappy     PathType = "happy"
	PathDetour    PathType = "detour"
	PathGraveyard PathType = "graveyard"
)

// Actor инициатор перехода
type Actor string

const (
	ActorCustomer Actor = "customer"
	ActorAgent    Actor = "agent"
	ActorSystem   Actor = "system"
)

// TransitionRule описывает один разрешенный переход
type TransitionRule struct {
	Origin             int      `json:"origin"`
	Destination        int      `json:"destination"`
	PathType           PathType `json:"path_type"`
	CustomerAccessible bool     `json:"customer_accessible"`
	AgentAccessible    bool     `json:"agent_accessible"`
	Handler            string   `json:"handler,omitempty"`
}

// WorkflowDefinition таблица переходов одной продуктовой линейки
type WorkflowDefinition struct {
	Name          string           `json:"name"`
	Domain        StatusDomain     `json:"domain"`
	InitialStatus int              `json:"initial_status"`
	Rules         []TransitionRule `json:"rules"`
}

// RulesBetween возвращает все правила для пары (origin, destination)
func (w *WorkflowDefinition) RulesBetween(origin, destination int) []TransitionRule {
	var rules []TransitionRule
	for _, rule := range w.Rules {
		if rule.Origin == origin && rule.Destination == destination {
			rules = append(rules, rule)
		}
	}
	return rules
}
