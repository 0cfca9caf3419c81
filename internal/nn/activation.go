package nn

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

var ErrActivationNotFound = errors.New("activation not found")

type ActivationType int

const (
	Sigmoid ActivationType = iota
	TanH
	ReLU
	SiLU
	Softmax
)

var activationNames = []string{"Sigmoid", "TanH", "ReLU", "SiLU", "Softmax"}

func (t ActivationType) String() string {
	if t < 0 || int(t) >= len(activationNames) {
		return fmt.Sprintf("ActivationType(%d)", int(t))
	}
	return activationNames[t]
}

// ParseActivationType resolves a case-insensitive activation name.
func ParseActivationType(name string) (ActivationType, error) {
	trimmed := strings.TrimSpace(name)
	for i, candidate := range activationNames {
		if strings.EqualFold(candidate, trimmed) {
			return ActivationType(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrActivationNotFound, name)
}

func (t ActivationType) MarshalText() ([]byte, error) {
	if t < 0 || int(t) >= len(activationNames) {
		return nil, fmt.Errorf("%w: %d", ErrActivationNotFound, int(t))
	}
	return []byte(activationNames[t]), nil
}

func (t *ActivationType) UnmarshalText(text []byte) error {
	parsed, err := ParseActivationType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ListActivations returns activation names in enum order.
func ListActivations() []string {
	return append([]string(nil), activationNames...)
}

// Activation is applied across a layer's pre-activation vector. ActivateAt
// receives the whole vector because Softmax normalizes over every element.
type Activation interface {
	Activate(x float64) float64
	ActivateAt(inputs []float64, index int) float64
	Derivative(inputs []float64, index int) float64
	Type() ActivationType
}

var activations = map[ActivationType]Activation{
	Sigmoid: sigmoid{},
	TanH:    tanh{},
	ReLU:    relu{},
	SiLU:    silu{},
	Softmax: softmax{},
}

func GetActivation(t ActivationType) (Activation, error) {
	fn, ok := activations[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActivationNotFound, t)
	}
	return fn, nil
}

func logistic(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

type sigmoid struct{}

func (sigmoid) Activate(x float64) float64 { return logistic(x) }

func (sigmoid) ActivateAt(inputs []float64, index int) float64 {
	return logistic(inputs[index])
}

func (sigmoid) Derivative(inputs []float64, index int) float64 {
	a := logistic(inputs[index])
	return a * (1 - a)
}

func (sigmoid) Type() ActivationType { return Sigmoid }

type tanh struct{}

func (tanh) Activate(x float64) float64 { return math.Tanh(x) }

func (tanh) ActivateAt(inputs []float64, index int) float64 {
	return math.Tanh(inputs[index])
}

func (tanh) Derivative(inputs []float64, index int) float64 {
	t := math.Tanh(inputs[index])
	return 1 - t*t
}

func (tanh) Type() ActivationType { return TanH }

type relu struct{}

func (relu) Activate(x float64) float64 { return math.Max(0, x) }

func (relu) ActivateAt(inputs []float64, index int) float64 {
	return math.Max(0, inputs[index])
}

func (relu) Derivative(inputs []float64, index int) float64 {
	if inputs[index] > 0 {
		return 1
	}
	return 0
}

func (relu) Type() ActivationType { return ReLU }

type silu struct{}

func (silu) Activate(x float64) float64 { return x * logistic(x) }

func (silu) ActivateAt(inputs []float64, index int) float64 {
	x := inputs[index]
	return x * logistic(x)
}

func (silu) Derivative(inputs []float64, index int) float64 {
	x := inputs[index]
	s := logistic(x)
	return x*s*(1-s) + s
}

func (silu) Type() ActivationType { return SiLU }

type softmax struct{}

// Activate on a lone scalar normalizes a one-element vector, so it is always
// 1. Use ActivateAt for a real softmax.
func (softmax) Activate(float64) float64 { return 1 }

func (softmax) ActivateAt(inputs []float64, index int) float64 {
	peak, sum := softmaxTerms(inputs)
	return math.Exp(inputs[index]-peak) / sum
}

func (softmax) Derivative(inputs []float64, index int) float64 {
	peak, sum := softmaxTerms(inputs)
	e := math.Exp(inputs[index] - peak)
	return (e*sum - e*e) / (sum * sum)
}

func (softmax) Type() ActivationType { return Softmax }

// softmaxTerms shifts by the max element; the ratio is unchanged and exp
// cannot overflow.
func softmaxTerms(inputs []float64) (peak, sum float64) {
	peak = math.Inf(-1)
	for _, v := range inputs {
		if v > peak {
			peak = v
		}
	}
	for _, v := range inputs {
		sum += math.Exp(v - peak)
	}
	return peak, sum
}
