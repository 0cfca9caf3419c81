package evo

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"tilevolve/internal/model"
)

const (
	OperationEliteClone  = "elite_clone"
	OperationEliteCopy   = "elite_copy"
	OperationMutableCopy = "mutable_copy"
)

// EliteCount is floor(populationSize * topPercentile / 100) in integer
// arithmetic.
func EliteCount(populationSize, topPercentile int) int {
	if populationSize <= 0 || topPercentile <= 0 {
		return 0
	}
	return populationSize * topPercentile / 100
}

// SelectElites returns the slot indexes of the eliteCount best fitness
// values, best first. Each sorted value maps back to the lowest slot holding
// it, so colliding values select the same slot more than once.
func SelectElites(fitness []float64, eliteCount int) ([]int, error) {
	if eliteCount <= 0 || eliteCount > len(fitness) {
		return nil, fmt.Errorf("invalid elite count: %d", eliteCount)
	}

	sorted := append([]float64(nil), fitness...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	elites := make([]int, 0, eliteCount)
	for i := 0; i < eliteCount; i++ {
		slot := firstSlotWith(fitness, sorted[i])
		if slot < 0 {
			return nil, fmt.Errorf("fitness at rank %d has no slot", i)
		}
		elites = append(elites, slot)
	}
	return elites, nil
}

func firstSlotWith(fitness []float64, value float64) int {
	for i, v := range fitness {
		if v == value || (math.IsNaN(v) && math.IsNaN(value)) {
			return i
		}
	}
	return -1
}

// Replenish builds the next generation: elites first, then each remaining
// slot copies one of two distinct random elites. Even slots take the first
// pick and lose their unchanging flag; odd slots take the second and keep the
// source's flag. Every slot is an independent copy.
func Replenish(rng *rand.Rand, elites []model.NetworkSnapshot, populationSize, generation int) ([]model.NetworkSnapshot, []model.LineageRecord, error) {
	if rng == nil {
		return nil, nil, fmt.Errorf("random source is required")
	}
	if len(elites) == 0 || len(elites) > populationSize {
		return nil, nil, fmt.Errorf("elite count must be in [1, population size]")
	}

	next := make([]model.NetworkSnapshot, 0, populationSize)
	lineage := make([]model.LineageRecord, 0, populationSize)
	for i, elite := range elites {
		next = append(next, elite.Clone())
		lineage = append(lineage, model.LineageRecord{
			Generation: generation,
			Slot:       i,
			NetworkID:  elite.NetworkID,
			Operation:  OperationEliteClone,
			Unchanging: elite.Unchanging,
		})
	}

	for slot := len(elites); slot < populationSize; slot++ {
		first := rng.Intn(len(elites))
		second := first
		if len(elites) > 1 {
			for second == first {
				second = rng.Intn(len(elites))
			}
		}

		pick := elites[second].Clone()
		operation := OperationEliteCopy
		if slot%2 == 0 {
			pick = elites[first].Clone()
			pick.Unchanging = false
			operation = OperationMutableCopy
		}
		next = append(next, pick)
		lineage = append(lineage, model.LineageRecord{
			Generation: generation,
			Slot:       slot,
			NetworkID:  pick.NetworkID,
			Operation:  operation,
			Unchanging: pick.Unchanging,
		})
	}
	return next, lineage, nil
}
