package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"oodresample/internal/model"
)

const runIndexFile = "run_index.json"

// RunConfig is the resolved configuration of one scheduler run.
type RunConfig struct {
	RunID            string    `json:"run_id"`
	Seed             int64     `json:"seed"`
	Epochs           int       `json:"epochs"`
	WarmupEpochs     int       `json:"warmup_epochs"`
	Scoring          string    `json:"scoring"`
	Distribution     string    `json:"distribution,omitempty"`
	Resampler        string    `json:"resampler"`
	Quantile         float64   `json:"quantile,omitempty"`
	Strict           bool      `json:"strict,omitempty"`
	Replacement      bool      `json:"replacement,omitempty"`
	Policy           string    `json:"policy,omitempty"`
	Coefficients     []float64 `json:"coefficients,omitempty"`
	DecayComponent   int       `json:"decay_component,omitempty"`
	DecayFrom        float64   `json:"decay_from,omitempty"`
	DecayTo          float64   `json:"decay_to,omitempty"`
	Components       int       `json:"components,omitempty"`
	Bins             int       `json:"bins,omitempty"`
	BaseSeed         int64     `json:"base_seed,omitempty"`
	PoolMode         string    `json:"pool_mode"`
	CandidateSize    int       `json:"candidate_size"`
	SizeFactor       float64   `json:"size_factor"`
	SampledSize      int       `json:"sampled_size"`
	BatchSize        int       `json:"batch_size"`
	AuxBatchFactor   int       `json:"aux_batch_factor"`
	Loss             string    `json:"loss"`
	Beta             float64   `json:"beta"`
	LearningRate     float64   `json:"learning_rate"`
	Schedule         string    `json:"schedule"`
	Momentum         float64   `json:"momentum"`
	WeightDecay      float64   `json:"weight_decay"`
	Nesterov         bool      `json:"nesterov"`
	SaveEvery        int       `json:"save_every"`
	Workers          int       `json:"workers"`
	PretrainedPath   string    `json:"pretrained_path,omitempty"`
	ClusterDiagnosis int       `json:"cluster_diagnosis,omitempty"`
}

type RunArtifacts struct {
	Config          RunConfig                `json:"config"`
	AccuracyByEpoch []float64                `json:"accuracy_by_epoch"`
	Diagnostics     []model.EpochDiagnostics `json:"epoch_diagnostics,omitempty"`
	FinalAccuracy   float64                  `json:"final_accuracy"`
	SeenTotal       int                      `json:"seen_total"`
}

type RunIndexEntry struct {
	RunID         string  `json:"run_id"`
	Scoring       string  `json:"scoring"`
	Resampler     string  `json:"resampler"`
	Seed          int64   `json:"seed"`
	Epochs        int     `json:"epochs"`
	CandidateSize int     `json:"candidate_size"`
	SampledSize   int     `json:"sampled_size"`
	FinalAccuracy float64 `json:"final_accuracy"`
	SeenTotal     int     `json:"seen_total"`
	CreatedAtUTC  string  `json:"created_at_utc"`
}

// WriteRunArtifacts lays out runs/<id>/ with the resolved config, the
// accuracy history, per-epoch diagnostics and a flat epoch_series.csv.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}
	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	files := []struct {
		name  string
		value any
	}{
		{"config.json", artifacts.Config},
		{"accuracy_history.json", map[string]any{
			"accuracy_by_epoch": artifacts.AccuracyByEpoch,
			"final_accuracy":    artifacts.FinalAccuracy,
			"seen_total":        artifacts.SeenTotal,
		}},
		{"epoch_diagnostics.json", artifacts.Diagnostics},
	}
	for _, f := range files {
		if err := writeJSON(filepath.Join(runDir, f.name), f.value); err != nil {
			return "", fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	if err := WriteEpochSeries(runDir, artifacts.Diagnostics); err != nil {
		return "", err
	}
	return runDir, nil
}

// AppendRunIndex inserts entry, replacing any entry with the same run id.
func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}
	index, err := readRunIndex(baseDir)
	if err != nil {
		return err
	}
	replaced := false
	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			replaced = true
		}
	}
	if !replaced {
		index = append(index, entry)
	}
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the index newest first. Entries with equal
// timestamps keep reverse append order.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	index, err := readRunIndex(baseDir)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(index)-1; i < j; i, j = i+1, j-1 {
		index[i], index[j] = index[j], index[i]
	}
	sort.SliceStable(index, func(i, j int) bool {
		return index[i].CreatedAtUTC > index[j].CreatedAtUTC
	})
	return index, nil
}

func readRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if os.IsNotExist(err) {
		return []RunIndexEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode run index: %w", err)
	}
	return entries, nil
}

// ExportRunArtifacts copies a run directory's JSON, CSV, chart and
// checkpoint files into outDir/runID.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}
	src := filepath.Join(baseDir, runID)
	entries, err := os.ReadDir(src)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".json", ".csv", ".png", CheckpointExt:
			if err := copyFile(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
				return "", err
			}
		}
	}
	return dst, nil
}

func ReadEpochDiagnostics(baseDir, runID string) ([]model.EpochDiagnostics, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, "epoch_diagnostics.json"))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var diagnostics []model.EpochDiagnostics
	if err := json.Unmarshal(data, &diagnostics); err != nil {
		return nil, false, err
	}
	return diagnostics, true, nil
}

var epochSeriesHeader = []string{
	"epoch", "phase", "selected", "fallback_filled", "diversity_ratio",
	"score_mean", "learning_rate", "train_loss", "validation_accuracy",
}

// WriteEpochSeries writes one row per epoch for spreadsheet use.
func WriteEpochSeries(runDir string, diagnostics []model.EpochDiagnostics) error {
	file, err := os.Create(filepath.Join(runDir, "epoch_series.csv"))
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(epochSeriesHeader); err != nil {
		return err
	}
	for _, d := range diagnostics {
		mean := ""
		if d.Scores != nil {
			mean = formatFloat(d.Scores.Mean)
		}
		if err := writer.Write([]string{
			strconv.Itoa(d.Epoch),
			d.Phase,
			strconv.Itoa(d.Selected),
			strconv.Itoa(d.FallbackFilled),
			formatFloat(d.DiversityRatio),
			mean,
			formatFloat(d.LearningRate),
			formatFloat(d.TrainLoss),
			formatFloat(d.ValidationAcc),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
