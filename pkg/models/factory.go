package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownMethod is returned for unsupported method names.
var ErrUnknownMethod = errors.New("unknown method")

// ParseMethod normalises a method name. "CoxPH" and "AFT" are accepted as
// aliases.
func ParseMethod(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "coxph", "cox":
		return MethodCoxPH, nil
	case "weibull", "aft", "weibullaft":
		return MethodWeibull, nil
	default:
		return "", fmt.Errorf("%w: %q (supported: %s, %s)", ErrUnknownMethod, s, MethodCoxPH, MethodWeibull)
	}
}

// New creates an unfitted model for method.
func New(method string, opts Options) (Model, error) {
	name, err := ParseMethod(method)
	if err != nil {
		return nil, err
	}
	switch name {
	case MethodCoxPH:
		return NewCoxModel(opts), nil
	default:
		return NewWeibullModel(opts), nil
	}
}

// Restore rebuilds a fitted model from exported parameters. Prediction
// options come from opts; fit state comes from p.
func Restore(p Params, opts Options) (Model, error) {
	switch p.Method {
	case MethodCoxPH:
		m := NewCoxModel(opts)
		if err := m.restore(p); err != nil {
			return nil, err
		}
		return m, nil
	case MethodWeibull:
		m := NewWeibullModel(opts)
		if err := m.restore(p); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, p.Method)
	}
}
