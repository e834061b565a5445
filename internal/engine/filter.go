package engine

import (
	"fmt"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"

	"github.com/embesozzi/keycloak-openfga-event-publisher/internal/types"
)

// Filter holds boolean conditions an admin event must satisfy to be published
type Filter struct {
	conditions []string
	programs   []*vm.Program
}

// NewFilter compiles every condition once. Conditions see the fields
// resourceType, operationType, resourcePath, realmId, clientId, userId,
// ipAddress and error.
func NewFilter(conditions []string) (*Filter, error) {
	f := &Filter{}
	for _, condition := range conditions {
		program, err := expr.Compile(condition, expr.Env(filterEnv(&types.AdminEvent{})), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("failed to compile filter condition '%s': %w", condition, err)
		}
		f.conditions = append(f.conditions, condition)
		f.programs = append(f.programs, program)
	}
	return f, nil
}

// Match reports whether ev satisfies all conditions. A nil filter matches everything.
func (f *Filter) Match(ev *types.AdminEvent) (bool, error) {
	if f == nil {
		return true, nil
	}

	env := filterEnv(ev)
	for i, program := range f.programs {
		output, err := expr.Run(program, env)
		if err != nil {
			return false, fmt.Errorf("failed to evaluate filter condition '%s': %w", f.conditions[i], err)
		}
		if matched, ok := output.(bool); !ok || !matched {
			return false, nil
		}
	}

	return true, nil
}

func filterEnv(ev *types.AdminEvent) map[string]interface{} {
	return map[string]interface{}{
		"resourceType":  ev.ResourceType,
		"operationType": ev.OperationType,
		"resourcePath":  ev.ResourcePath,
		"realmId":       ev.Realm(),
		"clientId":      ev.AuthDetails.ClientID,
		"userId":        ev.AuthDetails.UserID,
		"ipAddress":     ev.AuthDetails.IPAddress,
		"error":         ev.Error,
	}
}
