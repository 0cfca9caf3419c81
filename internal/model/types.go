package model

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

// CurrentVersion stamps records written by this build.
func CurrentVersion() VersionedRecord {
	return VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schemaVersion"`
	CodecVersion  int `json:"codecVersion"`
}

// NetworkSnapshot is the portable value form of a fixed-topology network plus
// its evolutionary bookkeeping.
type NetworkSnapshot struct {
	VersionedRecord
	LayerSizes []int         `json:"layerSizes"`
	Layers     []LayerRecord `json:"layers"`
	// Unchanging marks an elite that must not be mutated before it plays.
	Unchanging bool  `json:"unchanging"`
	NetworkID  int64 `json:"networkId"`
}

type LayerRecord struct {
	Weights        []float64 `json:"weights"`
	Biases         []float64 `json:"biases"`
	ActivationType string    `json:"activationType"`
}

// Clone returns a deep copy so slots never share weight slices.
func (s NetworkSnapshot) Clone() NetworkSnapshot {
	out := s
	out.LayerSizes = append([]int(nil), s.LayerSizes...)
	out.Layers = make([]LayerRecord, len(s.Layers))
	for i, layer := range s.Layers {
		out.Layers[i] = LayerRecord{
			Weights:        append([]float64(nil), layer.Weights...),
			Biases:         append([]float64(nil), layer.Biases...),
			ActivationType: layer.ActivationType,
		}
	}
	return out
}

// Population is one generation's slots and their accumulated fitness. Index i
// of Snapshots and Fitness always describe the same slot.
type Population struct {
	VersionedRecord
	RunID      string            `json:"runId"`
	Generation int               `json:"generation"`
	Snapshots  []NetworkSnapshot `json:"snapshots"`
	Fitness    []float64         `json:"fitness"`
}

type GenerationDiagnostics struct {
	Generation        int     `json:"generation"`
	BestFitness       float64 `json:"best_fitness"`
	MeanFitness       float64 `json:"mean_fitness"`
	MinFitness        float64 `json:"min_fitness"`
	HighestTile       int     `json:"highest_tile"`
	GenerationHighest int     `json:"generation_highest"`
	BestNetworkID     int64   `json:"best_network_id"`
	EliteIDs          []int64 `json:"elite_ids"`
}

// LineageRecord describes where a slot of the next generation came from.
type LineageRecord struct {
	Generation int    `json:"generation"`
	Slot       int    `json:"slot"`
	NetworkID  int64  `json:"network_id"`
	Operation  string `json:"operation"`
	Unchanging bool   `json:"unchanging"`
}
