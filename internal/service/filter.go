package service

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidegate/armada/internal/domain"
)

// ParseActionQuery translates a textual filter expression into an action
// filter. The expression is a semicolon-separated conjunction of
// field==value terms, e.g. "status==running;active==true". An empty
// expression matches everything.
func ParseActionQuery(expr string) (domain.ActionFilter, error) {
	var f domain.ActionFilter
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return f, nil
	}

	for _, term := range strings.Split(expr, ";") {
		field, value, ok := strings.Cut(term, "==")
		if !ok {
			return f, fmt.Errorf("%w: filter term %q", domain.ErrInvalidInput, term)
		}
		field = strings.TrimSpace(field)
		value = strings.TrimSpace(value)

		switch field {
		case "status":
			status := domain.ActionState(strings.ToLower(value))
			switch status {
			case domain.ActionStateScheduled, domain.ActionStateRunning, domain.ActionStateCanceling,
				domain.ActionStateCanceled, domain.ActionStateFinished, domain.ActionStateError:
			default:
				return f, fmt.Errorf("%w: unknown action status %q", domain.ErrInvalidInput, value)
			}
			f.Status = &status
		case "active":
			active, err := strconv.ParseBool(value)
			if err != nil {
				return f, fmt.Errorf("%w: active must be a boolean, got %q", domain.ErrInvalidInput, value)
			}
			f.Active = &active
		default:
			return f, fmt.Errorf("%w: unknown filter field %q", domain.ErrInvalidInput, field)
		}
	}
	return f, nil
}
