package model

import "math"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version" msgpack:"schema_version"`
	CodecVersion  int `json:"codec_version" msgpack:"codec_version"`
}

// Orientation declares which end of a score range marks unfamiliar inputs.
type Orientation int

const (
	HigherIsMoreAnomalous Orientation = iota
	LowerIsMoreAnomalous
)

func (o Orientation) String() string {
	switch o {
	case HigherIsMoreAnomalous:
		return "higher_is_more_anomalous"
	case LowerIsMoreAnomalous:
		return "lower_is_more_anomalous"
	default:
		return "unknown"
	}
}

// CandidateSet is the ordered list of auxiliary sample indices drawn for one epoch.
type CandidateSet []int

// ScoreVector holds one score per candidate, co-indexed with a CandidateSet.
type ScoreVector struct {
	Variant     string
	Orientation Orientation
	Values      []float64
}

func (s ScoreVector) Len() int {
	return len(s.Values)
}

// Anomaly returns the scores re-oriented so that larger always means more anomalous.
func (s ScoreVector) Anomaly() []float64 {
	out := make([]float64, len(s.Values))
	if s.Orientation == LowerIsMoreAnomalous {
		for i, v := range s.Values {
			out[i] = -v
		}
		return out
	}
	copy(out, s.Values)
	return out
}

// Component is one 1-D Gaussian of a mixture.
type Component struct {
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
	Weight   float64 `json:"weight"`
}

func (c Component) StdDev() float64 {
	return math.Sqrt(c.Variance)
}

// MixtureModel components are kept sorted ascending by mean.
type MixtureModel struct {
	Components    []Component `json:"components"`
	LogLikelihood float64     `json:"log_likelihood"`
	Iterations    int         `json:"iterations"`
	Converged     bool        `json:"converged"`
}

func (m MixtureModel) K() int {
	return len(m.Components)
}

// Histogram pairs fixed bin edges with observed, target and selected counts.
type Histogram struct {
	Edges    []float64 `json:"edges"`
	Observed []int     `json:"observed"`
	Target   []int     `json:"target"`
	Selected []int     `json:"selected,omitempty"`
	// TargetProbs is the normalized target curve the counts were derived from.
	TargetProbs []float64 `json:"target_probs"`
}

func (h Histogram) Bins() int {
	return len(h.Observed)
}

// SelectionResult is the outcome of one resampling pass.
type SelectionResult struct {
	Indices   []int
	Requested int
	// Fallback counts indices filled uniformly outside their target bin.
	Fallback int
	// Shrunk is set when a quantile slice ran past the end of the candidate set.
	Shrunk    bool
	Histogram *Histogram
	Mixture   *MixtureModel
}

func (r SelectionResult) Len() int {
	return len(r.Indices)
}

// ScoreSummary describes the distribution of one epoch's anomaly scores.
type ScoreSummary struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	P25    float64 `json:"p25"`
	Median float64 `json:"median"`
	P75    float64 `json:"p75"`
	Max    float64 `json:"max"`
}

// EpochDiagnostics is the persisted per-epoch record of a run.
type EpochDiagnostics struct {
	Epoch             int           `json:"epoch"`
	Phase             string        `json:"phase"`
	Seed              int64         `json:"seed,omitempty"`
	CandidateCount    int           `json:"candidate_count"`
	Requested         int           `json:"requested"`
	Selected          int           `json:"selected"`
	FallbackFilled    int           `json:"fallback_filled"`
	Shrunk            bool          `json:"shrunk,omitempty"`
	DiversityRatio    float64       `json:"diversity_ratio"`
	SeenTotal         int           `json:"seen_total"`
	Scores            *ScoreSummary `json:"scores,omitempty"`
	Mixture           *MixtureModel `json:"mixture,omitempty"`
	Histogram         *Histogram    `json:"histogram,omitempty"`
	CalinskiHarabasz  *float64      `json:"calinski_harabasz,omitempty"`
	LearningRate      float64       `json:"learning_rate"`
	TrainLoss         float64       `json:"train_loss"`
	ValidationLoss    float64       `json:"validation_loss"`
	ValidationAcc     float64       `json:"validation_accuracy"`
	ScoreDurationMS   int64         `json:"score_duration_ms"`
	EpochDurationMS   int64         `json:"epoch_duration_ms"`
	CheckpointWritten bool          `json:"checkpoint_written,omitempty"`
}

// Checkpoint is the serialized classifier state at an epoch boundary.
type Checkpoint struct {
	VersionedRecord
	RunID     string               `json:"run_id" msgpack:"run_id"`
	Epoch     int                  `json:"epoch" msgpack:"epoch"`
	Arch      string               `json:"arch" msgpack:"arch"`
	Params    map[string][]float64 `json:"params" msgpack:"params"`
	Accuracy  float64              `json:"accuracy" msgpack:"accuracy"`
	Optimizer map[string][]float64 `json:"optimizer,omitempty" msgpack:"optimizer,omitempty"`
	Schedule  *ScheduleState       `json:"schedule,omitempty" msgpack:"schedule,omitempty"`
	Last      bool                 `json:"last" msgpack:"last"`
}

// ScheduleState is the learning-rate schedule position stored with a checkpoint.
type ScheduleState struct {
	Name   string  `json:"name" msgpack:"name"`
	Step   int     `json:"step" msgpack:"step"`
	BaseLR float64 `json:"base_lr" msgpack:"base_lr"`
	LR     float64 `json:"lr" msgpack:"lr"`
}

// RunRecord is the persisted summary of one scheduler run.
type RunRecord struct {
	VersionedRecord
	ID            string  `json:"id"`
	CreatedAtUTC  string  `json:"created_at_utc"`
	Seed          int64   `json:"seed"`
	Epochs        int     `json:"epochs"`
	Scoring       string  `json:"scoring"`
	Resampler     string  `json:"resampler"`
	CandidateSize int     `json:"candidate_size"`
	SampledSize   int     `json:"sampled_size"`
	FinalAccuracy float64 `json:"final_accuracy"`
	SeenTotal     int     `json:"seen_total"`
}
