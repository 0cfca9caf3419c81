package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

var ErrDimensionMismatch = errors.New("dimension mismatch")

// Layer is a dense affine transform followed by one activation. Weights are
// stored row-major by output neuron: index = out*Inputs + in.
type Layer struct {
	Inputs     int
	Outputs    int
	Weights    []float64
	Biases     []float64
	Activation ActivationType
}

func NewLayer(inputs, outputs int, activation ActivationType, rng *rand.Rand) (*Layer, error) {
	if inputs <= 0 || outputs <= 0 {
		return nil, fmt.Errorf("layer sizes must be > 0: inputs=%d outputs=%d", inputs, outputs)
	}
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	l := &Layer{
		Inputs:     inputs,
		Outputs:    outputs,
		Weights:    make([]float64, inputs*outputs),
		Biases:     make([]float64, outputs),
		Activation: activation,
	}
	l.Initialize(rng)
	return l, nil
}

// Initialize draws standard-normal weights scaled by 1/sqrt(fan-in) and zeroes
// the biases.
func (l *Layer) Initialize(rng *rand.Rand) {
	scale := 1 / math.Sqrt(float64(l.Inputs))
	for i := range l.Weights {
		l.Weights[i] = boxMuller(rng) * scale
	}
	for i := range l.Biases {
		l.Biases[i] = 0
	}
}

func boxMuller(rng *rand.Rand) float64 {
	x1 := 1 - rng.Float64()
	x2 := 1 - rng.Float64()
	return math.Sqrt(-2.0*math.Log(x1)) * math.Cos(2.0*math.Pi*x2)
}

func (l *Layer) Weight(in, out int) float64 {
	return l.Weights[out*l.Inputs+in]
}

func (l *Layer) Forward(inputs []float64) ([]float64, error) {
	if len(inputs) != l.Inputs {
		return nil, fmt.Errorf("%w: layer expects %d inputs, got %d", ErrDimensionMismatch, l.Inputs, len(inputs))
	}
	fn, err := GetActivation(l.Activation)
	if err != nil {
		return nil, err
	}

	weighted := make([]float64, l.Outputs)
	for out := 0; out < l.Outputs; out++ {
		total := l.Biases[out]
		row := l.Weights[out*l.Inputs : (out+1)*l.Inputs]
		for in, w := range row {
			total += inputs[in] * w
		}
		weighted[out] = total
	}

	activated := make([]float64, l.Outputs)
	for out := range weighted {
		activated[out] = fn.ActivateAt(weighted, out)
	}
	return activated, nil
}

// Mutate nudges every weight by ±amount. The bias at the same loop index moves
// by uniform[0,1) with the same sign, so only biases whose index is below the
// weight count are touched and amount=0 still moves biases.
func (l *Layer) Mutate(amount float64, rng *rand.Rand) {
	for i := range l.Weights {
		sign := 1.0
		if rng.Float64() < 0.5 {
			sign = -1.0
		}
		l.Weights[i] += amount * sign
		if i < len(l.Biases) {
			l.Biases[i] += rng.Float64() * sign
		}
	}
}

// Merge averages two layers of identical shape into a new layer.
func (l *Layer) Merge(other *Layer) (*Layer, error) {
	if other == nil || l.Inputs != other.Inputs || l.Outputs != other.Outputs ||
		len(l.Weights) != len(other.Weights) || len(l.Biases) != len(other.Biases) {
		return nil, fmt.Errorf("%w: cannot merge layers of different shape", ErrDimensionMismatch)
	}
	merged := &Layer{
		Inputs:     l.Inputs,
		Outputs:    l.Outputs,
		Weights:    make([]float64, len(l.Weights)),
		Biases:     make([]float64, len(l.Biases)),
		Activation: l.Activation,
	}
	for i := range l.Weights {
		merged.Weights[i] = (l.Weights[i] + other.Weights[i]) / 2
	}
	for i := range l.Biases {
		merged.Biases[i] = (l.Biases[i] + other.Biases[i]) / 2
	}
	return merged, nil
}

func (l *Layer) Clone() *Layer {
	return &Layer{
		Inputs:     l.Inputs,
		Outputs:    l.Outputs,
		Weights:    append([]float64(nil), l.Weights...),
		Biases:     append([]float64(nil), l.Biases...),
		Activation: l.Activation,
	}
}
