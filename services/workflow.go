package services

import (
	"bytes"
	_ "embed"
	"fmt"
	"github.com/beevik/etree"
	"io"
	"loanservicing/models"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Имена таблиц переходов, которые использует ядро журнала
const (
	WorkflowLoan    = "loan"
	WorkflowPayment = "payment"
)

//go:embed workflows/default.xml
var defaultWorkflowsXML []byte

// WorkflowTable набор таблиц переходов, загруженный при старте
type WorkflowTable struct {
	workflows map[string]*models.WorkflowDefinition
}

// Get возвращает таблицу по имени
func (t *WorkflowTable) Get(name string) (*models.WorkflowDefinition, error) {
	wf, ok := t.workflows[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, name)
	}
	return wf, nil
}

// Names возвращает имена всех таблиц
func (t *WorkflowTable) Names() []string {
	names := make([]string, 0, len(t.workflows))
	for name := range t.workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handlers возвращает все ссылки на обработчики переходов
func (t *WorkflowTable) Handlers() []string {
	seen := make(map[string]bool)
	var handlers []string
	for _, wf := range t.workflows {
		for _, rule := range wf.Rules {
			if rule.Handler != "" && !seen[rule.Handler] {
				seen[rule.Handler] = true
				handlers = append(handlers, rule.Handler)
			}
		}
	}
	sort.Strings(handlers)
	return handlers
}

// DefaultWorkflows загружает встроенные таблицы переходов
func DefaultWorkflows(registry *StatusRegistry) (*WorkflowTable, error) {
	return LoadWorkflows(bytes.NewReader(defaultWorkflowsXML), registry)
}

// LoadWorkflowsFile загружает таблицы переходов из файла
func LoadWorkflowsFile(path string, registry *StatusRegistry) (*WorkflowTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия файла таблиц переходов: %v", err)
	}
	defer f.Close()
	return LoadWorkflows(f, registry)
}

// LoadWorkflows читает XML описание таблиц переходов.
// Коды проверяются по справочнику: из терминальных и "кладбищенских"
// статусов не может быть исходящих переходов.
func LoadWorkflows(r io.Reader, registry *StatusRegistry) (*WorkflowTable, error) {
	doc := etree.NewDocument()
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, fmt.Errorf("ошибка чтения таблиц переходов: %v", err)
	}

	root := doc.SelectElement("workflows")
	if root == nil {
		return nil, fmt.Errorf("не найден корневой элемент workflows")
	}

	table := &WorkflowTable{workflows: make(map[string]*models.WorkflowDefinition)}
	for _, el := range root.SelectElements("workflow") {
		wf, err := parseWorkflow(el, registry)
		if err != nil {
			return nil, err
		}
		if _, exists := table.workflows[wf.Name]; exists {
			return nil, fmt.Errorf("таблица %s описана дважды", wf.Name)
		}
		table.workflows[wf.Name] = wf
	}

	if len(table.workflows) == 0 {
		return nil, fmt.Errorf("не описано ни одной таблицы переходов")
	}
	return table, nil
}

func parseWorkflow(el *etree.Element, registry *StatusRegistry) (*models.WorkflowDefinition, error) {
	name := strings.TrimSpace(el.SelectAttrValue("name", ""))
	if name == "" {
		return nil, fmt.Errorf("у таблицы переходов нет имени")
	}

	domain := models.StatusDomain(el.SelectAttrValue("domain", ""))
	switch domain {
	case models.DomainApplication, models.DomainLoan, models.DomainPayment:
	default:
		return nil, fmt.Errorf("%s: неизвестный домен %q", name, domain)
	}

	initial, err := strconv.Atoi(el.SelectAttrValue("initial", ""))
	if err != nil {
		return nil, fmt.Errorf("%s: неверный начальный статус: %v", name, err)
	}
	if _, err := registry.Get(domain, initial); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	wf := &models.WorkflowDefinition{Name: name, Domain: domain, InitialStatus: initial}
	for _, ruleEl := range el.SelectElements("rule") {
		rules, err := parseRule(ruleEl, wf, registry)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		wf.Rules = append(wf.Rules, rules...)
	}
	return wf, nil
}

// parseRule разворачивает правило по всем парам (from, to)
func parseRule(el *etree.Element, wf *models.WorkflowDefinition, registry *StatusRegistry) ([]models.TransitionRule, error) {
	origins, err := parseCodes(el.SelectAttrValue("from", ""))
	if err != nil {
		return nil, err
	}
	destinations, err := parseCodes(el.SelectAttrValue("to", ""))
	if err != nil {
		return nil, err
	}

	pathType := models.PathType(el.SelectAttrValue("path", ""))
	switch pathType {
	case models.PathHappy, models.PathDetour, models.PathGraveyard:
	default:
		return nil, fmt.Errorf("неизвестный тип пути %q", pathType)
	}

	customer, err := parseFlag(el, "customer")
	if err != nil {
		return nil, err
	}
	agent, err := parseFlag(el, "agent")
	if err != nil {
		return nil, err
	}
	handler := strings.TrimSpace(el.SelectAttrValue("handler", ""))

	for _, code := range destinations {
		if _, err := registry.Get(wf.Domain, code); err != nil {
			return nil, err
		}
	}

	var rules []models.TransitionRule
	for _, origin := range origins {
		class, err := registry.Classify(wf.Domain, origin)
		if err != nil {
			return nil, err
		}
		if class != models.StatusClassActive {
			return nil, fmt.Errorf("переход из статуса %d (%s) недопустим", origin, class)
		}
		for _, destination := range destinations {
			if origin == destination {
				continue
			}
			rules = append(rules, models.TransitionRule{
				Origin:             origin,
				Destination:        destination,
				PathType:           pathType,
				CustomerAccessible: customer,
				AgentAccessible:    agent,
				Handler:            handler,
			})
		}
	}
	return rules, nil
}

func parseCodes(value string) ([]int, error) {
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return nil, fmt.Errorf("пустой список статусов")
	}
	codes := make([]int, 0, len(fields))
	for _, f := range fields {
		code, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("неверный код статуса %q", f)
		}
		codes = append(codes, code)
	}
	return codes, nil
}

func parseFlag(el *etree.Element, attr string) (bool, error) {
	value := el.SelectAttrValue(attr, "false")
	flag, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("неверное значение %s=%q", attr, value)
	}
	return flag, nil
}
