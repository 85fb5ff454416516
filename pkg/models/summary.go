package models

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/HatiCode/lycsurv/pkg/survival"
)

// z value of a two-sided 95% interval.
const z95 = 1.959963984540054

// Coefficient is one row of a fitted coefficient table.
type Coefficient struct {
	Name    string  `json:"name" yaml:"name"`
	Coef    float64 `json:"coef" yaml:"coef"`
	ExpCoef float64 `json:"exp_coef" yaml:"exp_coef"`
	SE      float64 `json:"se" yaml:"se"`
	Z       float64 `json:"z" yaml:"z"`
	P       float64 `json:"p" yaml:"p"`
	Lower95 float64 `json:"lower_95" yaml:"lower_95"`
	Upper95 float64 `json:"upper_95" yaml:"upper_95"`
}

// newCoefficient fills the table row. A standard error that is not a positive
// finite number is reported as 0 with p = 1 so the row stays serialisable.
func newCoefficient(name string, coef, se float64) Coefficient {
	if !(se > 0) || math.IsInf(se, 0) {
		se = 0
	}
	c := Coefficient{
		Name:    name,
		Coef:    coef,
		ExpCoef: math.Exp(coef),
		SE:      se,
		Lower95: coef - z95*se,
		Upper95: coef + z95*se,
		P:       1,
	}
	if se > 0 {
		c.Z = coef / se
		c.P = 2 * distuv.UnitNormal.Survival(math.Abs(c.Z))
	}
	return c
}

// Summary describes a fitted model.
type Summary struct {
	Method        string             `json:"method" yaml:"method"`
	Observations  int                `json:"observations" yaml:"observations"`
	Events        int                `json:"events" yaml:"events"`
	LogLikelihood float64            `json:"log_likelihood" yaml:"log_likelihood"`
	Iterations    int                `json:"iterations" yaml:"iterations"`
	Robust        bool               `json:"robust,omitempty" yaml:"robust,omitempty"`
	Coefficients  []Coefficient      `json:"coefficients" yaml:"coefficients"`
	Means         map[string]float64 `json:"means,omitempty" yaml:"means,omitempty"`
}

// Params is the serialisable state of a fitted model.
type Params struct {
	Method       string          `json:"method"`
	Predictors   []string        `json:"predictors"`
	Reflected    bool            `json:"reflected"`
	Coefficients []float64       `json:"coefficients"`
	Means        []float64       `json:"means,omitempty"`
	Baseline     *survival.Curve `json:"baseline,omitempty"`
	HasIntercept bool            `json:"has_intercept,omitempty"`
	Intercept    float64         `json:"intercept,omitempty"`
	LogShape     float64         `json:"log_shape,omitempty"`
	Summary      Summary         `json:"summary"`
}
