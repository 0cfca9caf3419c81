package nn

import (
	"fmt"
	"math"
	"math/rand"
)

// Network is a fixed-topology chain of dense layers. layer[i] maps
// layerSizes[i] inputs to layerSizes[i+1] outputs.
type Network struct {
	layerSizes []int
	layers     []*Layer
}

func NewNetwork(rng *rand.Rand, layerSizes ...int) (*Network, error) {
	if len(layerSizes) < 2 {
		return nil, fmt.Errorf("network needs at least an input and an output size, got %v", layerSizes)
	}
	n := &Network{
		layerSizes: append([]int(nil), layerSizes...),
		layers:     make([]*Layer, len(layerSizes)-1),
	}
	for i := range n.layers {
		layer, err := NewLayer(layerSizes[i], layerSizes[i+1], Sigmoid, rng)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		n.layers[i] = layer
	}
	return n, nil
}

func (n *Network) LayerSizes() []int {
	return append([]int(nil), n.layerSizes...)
}

func (n *Network) Layers() []*Layer {
	return n.layers
}

// SetActivation assigns hidden to every layer but the last, which gets output.
func (n *Network) SetActivation(hidden, output ActivationType) {
	for i, layer := range n.layers {
		if i == len(n.layers)-1 {
			layer.Activation = output
			continue
		}
		layer.Activation = hidden
	}
}

func (n *Network) SetActivationAll(t ActivationType) {
	n.SetActivation(t, t)
}

func (n *Network) Forward(inputs []float64) ([]float64, error) {
	values := inputs
	for i, layer := range n.layers {
		out, err := layer.Forward(values)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		values = out
	}
	return values, nil
}

// Decide runs Forward and returns the index of the largest output. Ties keep
// the lowest index.
func (n *Network) Decide(inputs []float64) (int, []float64, error) {
	outputs, err := n.Forward(inputs)
	if err != nil {
		return 0, nil, err
	}
	return MaxIndex(outputs), outputs, nil
}

func MaxIndex(values []float64) int {
	best := -math.MaxFloat64
	index := 0
	for i, v := range values {
		if v > best {
			best = v
			index = i
		}
	}
	return index
}

func (n *Network) Mutate(amount float64, rng *rand.Rand) {
	for _, layer := range n.layers {
		layer.Mutate(amount, rng)
	}
}

// Merge averages two networks layer by layer into a new network.
func (n *Network) Merge(other *Network) (*Network, error) {
	if other == nil || len(n.layers) != len(other.layers) {
		return nil, fmt.Errorf("%w: networks have different layer counts", ErrDimensionMismatch)
	}
	merged := &Network{
		layerSizes: append([]int(nil), n.layerSizes...),
		layers:     make([]*Layer, len(n.layers)),
	}
	for i := range n.layers {
		layer, err := n.layers[i].Merge(other.layers[i])
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		merged.layers[i] = layer
	}
	return merged, nil
}

func (n *Network) Clone() *Network {
	out := &Network{
		layerSizes: append([]int(nil), n.layerSizes...),
		layers:     make([]*Layer, len(n.layers)),
	}
	for i, layer := range n.layers {
		out.layers[i] = layer.Clone()
	}
	return out
}
