package nn

import (
	"fmt"
	"math/rand"
	"sync/atomic"

	"tilevolve/internal/model"
)

var lastNetworkID atomic.Int64

// NextNetworkID hands out process-wide snapshot ids starting at 1.
func NextNetworkID() int64 {
	return lastNetworkID.Add(1)
}

// reserveNetworkID moves the counter to at least id so a loaded id is never
// handed out again in this process.
func reserveNetworkID(id int64) {
	for {
		current := lastNetworkID.Load()
		if current >= id {
			return
		}
		if lastNetworkID.CompareAndSwap(current, id) {
			return
		}
	}
}

// ToSnapshot captures the network under a fresh id. New snapshots are
// unchanging until the generation policy says otherwise.
func (n *Network) ToSnapshot() model.NetworkSnapshot {
	snap := model.NetworkSnapshot{
		VersionedRecord: model.CurrentVersion(),
		LayerSizes:      append([]int(nil), n.layerSizes...),
		Layers:          make([]model.LayerRecord, len(n.layers)),
		Unchanging:      true,
		NetworkID:       NextNetworkID(),
	}
	for i, layer := range n.layers {
		snap.Layers[i] = model.LayerRecord{
			Weights:        append([]float64(nil), layer.Weights...),
			Biases:         append([]float64(nil), layer.Biases...),
			ActivationType: layer.Activation.String(),
		}
	}
	return snap
}

// FromSnapshot materializes a network sized from the snapshot's layerSizes and
// overwrites its parameters in place.
func FromSnapshot(snap model.NetworkSnapshot) (*Network, error) {
	if len(snap.LayerSizes) < 2 {
		return nil, fmt.Errorf("snapshot %d: layer sizes %v", snap.NetworkID, snap.LayerSizes)
	}
	if len(snap.Layers) != len(snap.LayerSizes)-1 {
		return nil, fmt.Errorf("%w: snapshot %d has %d layer records for %d layer sizes",
			ErrDimensionMismatch, snap.NetworkID, len(snap.Layers), len(snap.LayerSizes))
	}

	// Parameters are overwritten below; the seed only fills the scratch init.
	n, err := NewNetwork(rand.New(rand.NewSource(1)), snap.LayerSizes...)
	if err != nil {
		return nil, err
	}
	for i, record := range snap.Layers {
		layer := n.layers[i]
		if len(record.Weights) != len(layer.Weights) || len(record.Biases) != len(layer.Biases) {
			return nil, fmt.Errorf("%w: snapshot %d layer %d has %d weights/%d biases, want %d/%d",
				ErrDimensionMismatch, snap.NetworkID, i,
				len(record.Weights), len(record.Biases), len(layer.Weights), len(layer.Biases))
		}
		activation, err := ParseActivationType(record.ActivationType)
		if err != nil {
			return nil, fmt.Errorf("snapshot %d layer %d: %w", snap.NetworkID, i, err)
		}
		copy(layer.Weights, record.Weights)
		copy(layer.Biases, record.Biases)
		layer.Activation = activation
	}
	reserveNetworkID(snap.NetworkID)
	return n, nil
}
