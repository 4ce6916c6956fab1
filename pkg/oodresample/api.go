package oodresample

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"oodresample/internal/classifier"
	"oodresample/internal/dataset"
	"oodresample/internal/epoch"
	"oodresample/internal/logging"
	"oodresample/internal/metrics"
	"oodresample/internal/model"
	"oodresample/internal/pool"
	"oodresample/internal/resample"
	"oodresample/internal/schedule"
	"oodresample/internal/scoring"
	"oodresample/internal/stats"
	"oodresample/internal/storage"
	"oodresample/internal/trainer"
)

const (
	defaultRunsDir    = "runs"
	defaultExportsDir = "exports"
	defaultDBPath     = "oodresample.db"
)

var ErrPretrainedModel = errors.New("invalid pretrained model")

type Options struct {
	StoreKind  string
	DBPath     string
	RunsDir    string
	ExportsDir string
	Logger     *zap.Logger
}

type Client struct {
	store  storage.Store
	logger *zap.Logger
	inited bool

	runsDir    string
	exportsDir string
}

// DataRequest selects the ID and auxiliary sources. CSV paths take
// precedence; otherwise synthetic Gaussian classes and a procedural
// auxiliary pool are generated from DataSeed.
type DataRequest struct {
	TrainCSV    string
	EvalCSV     string
	AuxCSV      string
	LabelColumn int
	HasHeader   bool

	Classes      int
	Dim          int
	PerClass     int
	EvalPerClass int
	Separation   float64
	AuxSize      int
	NearFraction float64
	DataSeed     int64
}

type RunRequest struct {
	Data DataRequest

	Seed         int64
	Epochs       int
	WarmupEpochs int

	Scoring      string
	Distribution string
	Resampler    string
	Quantile     float64
	Strict       bool
	Replacement  bool
	Policy       string
	Coefficients []float64
	// DecayComponent is the 1-based coefficients-policy component whose
	// coefficient moves linearly from DecayFrom to DecayTo over training;
	// 0 disables decay.
	DecayComponent int
	DecayFrom      float64
	DecayTo        float64
	Components     int
	Bins           int
	// BaseSeed roots the greedy seed chain; zero uses Seed.
	BaseSeed int64

	PoolMode      string
	CandidateSize int
	// SizeFactor sets CandidateSize to SizeFactor*SampledSize when
	// CandidateSize is zero.
	SizeFactor     float64
	SampledSize    int
	BatchSize      int
	AuxBatchFactor int
	Workers        int

	Loss         string
	Beta         float64
	LearningRate float64
	Schedule     string
	Momentum     float64
	WeightDecay  float64
	Nesterov     bool

	SaveEvery        int
	PretrainedPath   string
	ClusterDiagnosis int
	Charts           bool
	MetricsOut       string
}

type RunSummary struct {
	RunID           string
	ArtifactsDir    string
	AccuracyByEpoch []float64
	FinalAccuracy   float64
	SeenTotal       int
	Diagnostics     []model.EpochDiagnostics
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID         string
	CreatedAtUTC  string
	Scoring       string
	Resampler     string
	Seed          int64
	Epochs        int
	CandidateSize int
	SampledSize   int
	FinalAccuracy float64
	SeenTotal     int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type DiagnosticsRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type CheckpointRequest struct {
	RunID  string
	Latest bool
	// Epoch selects a checkpoint; storage.LastEpoch or zero selects the newest.
	Epoch int
}

type CheckpointSummary struct {
	RunID      string
	Epoch      int
	Arch       string
	Accuracy   float64
	Parameters int
	Schedule   *model.ScheduleState
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		logger:     logging.OrNop(opts.Logger),
		runsDir:    runsDir,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	if c.inited {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.inited = true
	return nil
}

// Reset drops all persisted runs, diagnostics and checkpoints.
func (c *Client) Reset(ctx context.Context) error {
	resetter, ok := c.store.(storage.Resetter)
	if !ok {
		return errors.New("store does not support reset")
	}
	if err := c.Init(ctx); err != nil {
		return err
	}
	return resetter.Reset(ctx)
}

func applyRunDefaults(req *RunRequest) {
	if req.Epochs <= 0 {
		req.Epochs = 10
	}
	if req.BaseSeed == 0 {
		req.BaseSeed = req.Seed
	}
	if req.Resampler == "" {
		req.Resampler = "quantile"
	}
	if req.Scoring == "" && req.Distribution == "" {
		req.Scoring = "max_prob"
	}
	if req.Quantile == 0 {
		req.Quantile = 0.125
	}
	if req.PoolMode == "" {
		req.PoolMode = string(pool.ModeVariable)
	}
	if req.SampledSize <= 0 {
		req.SampledSize = 1000
	}
	if req.SizeFactor <= 0 {
		req.SizeFactor = 4
	}
	if req.CandidateSize <= 0 {
		req.CandidateSize = int(math.Ceil(req.SizeFactor * float64(req.SampledSize)))
	}
	if req.BatchSize <= 0 {
		req.BatchSize = 128
	}
	if req.AuxBatchFactor <= 0 {
		req.AuxBatchFactor = 2
	}
	if req.Workers <= 0 {
		req.Workers = 4
	}
	if req.Loss == "" {
		req.Loss = string(trainer.LossUniform)
	}
	if req.Beta == 0 {
		req.Beta = 0.5
	}
	if req.LearningRate <= 0 {
		req.LearningRate = 0.1
	}
	if req.Schedule == "" {
		req.Schedule = "cosine"
	}
	if req.Momentum == 0 {
		req.Momentum = 0.9
	}
	if req.WeightDecay == 0 {
		req.WeightDecay = 5e-4
	}

	d := &req.Data
	if d.Classes <= 0 {
		d.Classes = 10
	}
	if d.Dim <= 0 {
		d.Dim = 16
	}
	if d.PerClass <= 0 {
		d.PerClass = 500
	}
	if d.EvalPerClass <= 0 {
		d.EvalPerClass = 100
	}
	if d.AuxSize <= 0 {
		d.AuxSize = 1 << 17
	}
	if d.NearFraction == 0 {
		d.NearFraction = 0.25
	}
}

// resolved holds every enum parsed ahead of the epoch loop.
type resolved struct {
	variant   scoring.Variant
	resampler resample.Resampler
	poolMode  pool.Mode
	loss      trainer.Loss
}

func resolve(req RunRequest, auxSize int) (resolved, error) {
	var out resolved
	var err error
	if req.Distribution != "" {
		dist, err := scoring.ParseDistribution(req.Distribution)
		if err != nil {
			return out, err
		}
		out.variant = dist.Variant()
	} else if out.variant, err = scoring.ParseVariant(req.Scoring); err != nil {
		return out, err
	}
	if out.poolMode, err = pool.ParseMode(req.PoolMode); err != nil {
		return out, err
	}
	if out.loss, err = trainer.ParseLoss(req.Loss); err != nil {
		return out, err
	}
	policy := resample.PolicyConfig{
		Name:           req.Policy,
		Coefficients:   req.Coefficients,
		DecayComponent: req.DecayComponent,
		DecayFrom:      req.DecayFrom,
		DecayTo:        req.DecayTo,
	}
	out.resampler, err = resample.ParseResampler(resample.Config{
		Name:        req.Resampler,
		Quantile:    req.Quantile,
		Strict:      req.Strict,
		Replacement: req.Replacement,
		Components:  req.Components,
		Bins:        req.Bins,
		Policy:      policy,
		BaseSeed:    req.BaseSeed,
		Total:       auxSize,
	})
	if err != nil {
		return out, err
	}
	return out, nil
}

type datasets struct {
	train      dataset.Dataset
	eval       dataset.Dataset
	aux        dataset.Dataset
	numClasses int
}

func loadDatasets(req DataRequest) (datasets, error) {
	var out datasets
	if req.TrainCSV != "" {
		if req.EvalCSV == "" || req.AuxCSV == "" {
			return out, errors.New("csv sources need train, eval and auxiliary files")
		}
		labelled := dataset.CSVOptions{LabelColumn: req.LabelColumn, HasHeader: req.HasHeader}
		train, err := dataset.LoadCSV(req.TrainCSV, labelled)
		if err != nil {
			return out, err
		}
		eval, err := dataset.LoadCSV(req.EvalCSV, labelled)
		if err != nil {
			return out, err
		}
		aux, err := dataset.LoadCSV(req.AuxCSV, dataset.CSVOptions{LabelColumn: -1, HasHeader: req.HasHeader})
		if err != nil {
			return out, err
		}
		numClasses, err := dataset.NumClasses(train)
		if err != nil {
			return out, err
		}
		return datasets{train: train, eval: eval, aux: aux, numClasses: numClasses}, nil
	}

	perClass := req.PerClass + req.EvalPerClass
	all, centers, err := dataset.GaussianClasses(dataset.GaussianConfig{
		Classes:    req.Classes,
		Dim:        req.Dim,
		PerClass:   perClass,
		Separation: req.Separation,
		Seed:       req.DataSeed,
	})
	if err != nil {
		return out, err
	}
	nTrain := req.Classes * req.PerClass
	trainIdx := make([]int, nTrain)
	for i := range trainIdx {
		trainIdx[i] = i
	}
	evalIdx := make([]int, all.Len()-nTrain)
	for i := range evalIdx {
		evalIdx[i] = nTrain + i
	}
	train, err := dataset.NewSubset(all, trainIdx)
	if err != nil {
		return out, err
	}
	eval, err := dataset.NewSubset(all, evalIdx)
	if err != nil {
		return out, err
	}
	aux, err := dataset.NewProcedural(dataset.AuxiliaryConfig{
		Size:         req.AuxSize,
		Dim:          req.Dim,
		Centers:      centers,
		NearFraction: req.NearFraction,
		Seed:         req.DataSeed + 1,
	})
	if err != nil {
		return out, err
	}
	return datasets{train: train, eval: eval, aux: aux, numClasses: req.Classes}, nil
}

func loadPretrained(path string, inputs, outputs int) (classifier.Trainable, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPretrainedModel, err)
	}
	ckpt, err := stats.ReadCheckpointFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPretrainedModel, err)
	}
	clf, err := classifier.FromCheckpoint(ckpt.Arch, ckpt.Params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPretrainedModel, err)
	}
	if sized, ok := clf.(interface{ NumInputs() int }); ok && sized.NumInputs() != inputs {
		return nil, fmt.Errorf("%w: %d inputs, data has %d", ErrPretrainedModel, sized.NumInputs(), inputs)
	}
	if clf.NumOutputs() != outputs {
		return nil, fmt.Errorf("%w: %d outputs, loss needs %d", ErrPretrainedModel, clf.NumOutputs(), outputs)
	}
	return clf, nil
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	applyRunDefaults(&req)
	if req.WarmupEpochs < 0 {
		return RunSummary{}, errors.New("warmup epochs must be >= 0")
	}
	if req.WarmupEpochs > req.Epochs {
		return RunSummary{}, fmt.Errorf("warmup epochs %d exceed epochs %d", req.WarmupEpochs, req.Epochs)
	}

	data, err := loadDatasets(req.Data)
	if err != nil {
		return RunSummary{}, err
	}
	r, err := resolve(req, data.aux.Len())
	if err != nil {
		return RunSummary{}, err
	}

	outputs := r.loss.Outputs(data.numClasses)
	var clf classifier.Trainable
	if req.PretrainedPath != "" {
		clf, err = loadPretrained(req.PretrainedPath, data.train.Dim(), outputs)
	} else {
		clf, err = classifier.NewLinear(data.train.Dim(), outputs, nil)
	}
	if err != nil {
		return RunSummary{}, err
	}

	opt, err := trainer.NewSGD(req.Momentum, req.WeightDecay, req.Nesterov)
	if err != nil {
		return RunSummary{}, err
	}
	oe, err := trainer.NewOE(trainer.Config{Loss: r.loss, NumClasses: data.numClasses, Beta: req.Beta}, opt)
	if err != nil {
		return RunSummary{}, err
	}
	stepsPerEpoch := int(math.Ceil(float64(data.train.Len()) / float64(req.BatchSize)))
	auxSteps := int(math.Ceil(float64(req.SampledSize) / float64(req.BatchSize*req.AuxBatchFactor)))
	if auxSteps < stepsPerEpoch {
		stepsPerEpoch = auxSteps
	}
	sched, err := schedule.Parse(schedule.Config{
		Name:          req.Schedule,
		BaseLR:        req.LearningRate,
		Epochs:        req.Epochs,
		StepsPerEpoch: stepsPerEpoch,
	})
	if err != nil {
		return RunSummary{}, err
	}

	if err := c.Init(ctx); err != nil {
		return RunSummary{}, err
	}

	now := time.Now().UTC()
	runID := uuid.NewString()
	runDir := filepath.Join(c.runsDir, runID)
	var recorder *metrics.Recorder
	if req.MetricsOut != "" {
		recorder = metrics.NewRecorder()
	}

	scheduler, err := epoch.NewScheduler(epoch.Config{
		RunID:          runID,
		RunDir:         runDir,
		Seed:           req.Seed,
		Epochs:         req.Epochs,
		WarmupEpochs:   req.WarmupEpochs,
		NumClasses:     data.numClasses,
		Train:          data.train,
		Eval:           data.eval,
		Aux:            data.aux,
		Classifier:     clf,
		Trainer:        oe,
		Optimizer:      opt,
		Schedule:       sched,
		Scoring:        r.variant,
		Resampler:      r.resampler,
		PoolMode:       r.poolMode,
		CandidateSize:  req.CandidateSize,
		SampledSize:    req.SampledSize,
		BatchSize:      req.BatchSize,
		AuxBatchFactor: req.AuxBatchFactor,
		Workers:        req.Workers,
		SaveEvery:      req.SaveEvery,
		ClusterK:       req.ClusterDiagnosis,
		Charts:         req.Charts,
		Store:          c.store,
		Metrics:        recorder,
		Logger:         c.logger,
	})
	if err != nil {
		return RunSummary{}, err
	}
	result, err := scheduler.Run(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	if err := c.store.SaveRun(ctx, model.RunRecord{
		VersionedRecord: storage.Versioned(),
		ID:              runID,
		CreatedAtUTC:    now.Format(time.RFC3339Nano),
		Seed:            req.Seed,
		Epochs:          req.Epochs,
		Scoring:         r.variant.String(),
		Resampler:       r.resampler.Name(),
		CandidateSize:   req.CandidateSize,
		SampledSize:     req.SampledSize,
		FinalAccuracy:   result.FinalAccuracy,
		SeenTotal:       result.SeenTotal,
	}); err != nil {
		return RunSummary{}, err
	}

	artifactsDir, err := stats.WriteRunArtifacts(c.runsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:            runID,
			Seed:             req.Seed,
			Epochs:           req.Epochs,
			WarmupEpochs:     req.WarmupEpochs,
			Scoring:          r.variant.String(),
			Distribution:     req.Distribution,
			Resampler:        r.resampler.Name(),
			Quantile:         req.Quantile,
			Strict:           req.Strict,
			Replacement:      req.Replacement,
			Policy:           req.Policy,
			Coefficients:     req.Coefficients,
			DecayComponent:   req.DecayComponent,
			DecayFrom:        req.DecayFrom,
			DecayTo:          req.DecayTo,
			Components:       req.Components,
			Bins:             req.Bins,
			BaseSeed:         req.BaseSeed,
			PoolMode:         string(r.poolMode),
			CandidateSize:    req.CandidateSize,
			SizeFactor:       req.SizeFactor,
			SampledSize:      req.SampledSize,
			BatchSize:        req.BatchSize,
			AuxBatchFactor:   req.AuxBatchFactor,
			Loss:             string(r.loss),
			Beta:             req.Beta,
			LearningRate:     req.LearningRate,
			Schedule:         sched.Name(),
			Momentum:         req.Momentum,
			WeightDecay:      req.WeightDecay,
			Nesterov:         req.Nesterov,
			SaveEvery:        req.SaveEvery,
			Workers:          req.Workers,
			PretrainedPath:   req.PretrainedPath,
			ClusterDiagnosis: req.ClusterDiagnosis,
		},
		AccuracyByEpoch: result.AccuracyByEpoch,
		Diagnostics:     result.Diagnostics,
		FinalAccuracy:   result.FinalAccuracy,
		SeenTotal:       result.SeenTotal,
	})
	if err != nil {
		return RunSummary{}, err
	}
	if err := stats.AppendRunIndex(c.runsDir, stats.RunIndexEntry{
		RunID:         runID,
		Scoring:       r.variant.String(),
		Resampler:     r.resampler.Name(),
		Seed:          req.Seed,
		Epochs:        req.Epochs,
		CandidateSize: req.CandidateSize,
		SampledSize:   req.SampledSize,
		FinalAccuracy: result.FinalAccuracy,
		SeenTotal:     result.SeenTotal,
		CreatedAtUTC:  now.Format(time.RFC3339Nano),
	}); err != nil {
		return RunSummary{}, err
	}
	if recorder != nil {
		if err := recorder.WriteTextfile(req.MetricsOut); err != nil {
			return RunSummary{}, fmt.Errorf("write metrics: %w", err)
		}
	}

	return RunSummary{
		RunID:           runID,
		ArtifactsDir:    filepath.Clean(artifactsDir),
		AccuracyByEpoch: append([]float64(nil), result.AccuracyByEpoch...),
		FinalAccuracy:   result.FinalAccuracy,
		SeenTotal:       result.SeenTotal,
		Diagnostics:     result.Diagnostics,
	}, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:         e.RunID,
			CreatedAtUTC:  e.CreatedAtUTC,
			Scoring:       e.Scoring,
			Resampler:     e.Resampler,
			Seed:          e.Seed,
			Epochs:        e.Epochs,
			CandidateSize: e.CandidateSize,
			SampledSize:   e.SampledSize,
			FinalAccuracy: e.FinalAccuracy,
			SeenTotal:     e.SeenTotal,
		})
	}
	return out, nil
}

// resolveRunID returns runID, or the newest indexed run when latest is set.
func (c *Client) resolveRunID(runID string, latest bool, what string) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if latest {
		entries, err := stats.ListRunIndex(c.runsDir)
		if err != nil {
			return "", err
		}
		if len(entries) == 0 {
			return "", errors.New("no runs available")
		}
		return entries[0].RunID, nil
	}
	if runID == "" {
		return "", fmt.Errorf("%s requires run id or latest", what)
	}
	return runID, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "export")
	if err != nil {
		return ExportSummary{}, err
	}

	exportedDir, err := stats.ExportRunArtifacts(c.runsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

// Diagnostics reads per-epoch diagnostics from the store, falling back to
// the run directory for runs persisted by an earlier process.
func (c *Client) Diagnostics(ctx context.Context, req DiagnosticsRequest) ([]model.EpochDiagnostics, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "diagnostics")
	if err != nil {
		return nil, err
	}

	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	diagnostics, ok, err := c.store.GetEpochDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		diagnostics, ok, err = stats.ReadEpochDiagnostics(c.runsDir, runID)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		return nil, fmt.Errorf("diagnostics not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(diagnostics) > req.Limit {
		diagnostics = diagnostics[:req.Limit]
	}
	out := make([]model.EpochDiagnostics, len(diagnostics))
	copy(out, diagnostics)
	return out, nil
}

// Checkpoint describes a stored checkpoint, falling back to the run
// directory's checkpoint files.
func (c *Client) Checkpoint(ctx context.Context, req CheckpointRequest) (CheckpointSummary, error) {
	if req.Epoch < storage.LastEpoch {
		return CheckpointSummary{}, fmt.Errorf("invalid checkpoint epoch %d", req.Epoch)
	}
	if req.Epoch == 0 {
		req.Epoch = storage.LastEpoch
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "checkpoint")
	if err != nil {
		return CheckpointSummary{}, err
	}

	if err := c.Init(ctx); err != nil {
		return CheckpointSummary{}, err
	}
	ckpt, ok, err := c.store.GetCheckpoint(ctx, runID, req.Epoch)
	if err != nil {
		return CheckpointSummary{}, err
	}
	if !ok {
		path := stats.CheckpointPath(filepath.Join(c.runsDir, runID), req.Epoch, req.Epoch == storage.LastEpoch)
		ckpt, err = stats.ReadCheckpointFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return CheckpointSummary{}, fmt.Errorf("checkpoint not found for run id: %s", runID)
			}
			return CheckpointSummary{}, err
		}
	}

	params := 0
	for _, p := range ckpt.Params {
		params += len(p)
	}
	return CheckpointSummary{
		RunID:      ckpt.RunID,
		Epoch:      ckpt.Epoch,
		Arch:       ckpt.Arch,
		Accuracy:   ckpt.Accuracy,
		Parameters: params,
		Schedule:   ckpt.Schedule,
	}, nil
}
