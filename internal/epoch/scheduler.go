package epoch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"oodresample/internal/classifier"
	"oodresample/internal/dataset"
	"oodresample/internal/estimator"
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

// Phase is the scheduler state of an epoch. Warmup always precedes Active.
type Phase string

const (
	PhaseWarmup Phase = "warmup"
	PhaseActive Phase = "active"
)

const DefaultScoreBatchSize = 200

// OptimizerState is implemented by optimizers whose buffers go into
// checkpoints.
type OptimizerState interface {
	State() map[string][]float64
}

type Config struct {
	RunID string
	// RunDir receives checkpoint files and histogram charts when set.
	RunDir string
	Seed   int64

	Epochs       int
	WarmupEpochs int
	NumClasses   int

	Train dataset.Dataset
	Eval  dataset.Dataset
	Aux   dataset.Dataset

	Classifier classifier.Trainable
	Trainer    trainer.Trainer
	Optimizer  OptimizerState
	Schedule   schedule.Schedule

	Scoring   scoring.Variant
	Resampler resample.Resampler
	// Warmup defaults to uniform draws over the whole auxiliary range.
	Warmup resample.Resampler

	PoolMode       pool.Mode
	CandidateSize  int
	SampledSize    int
	BatchSize      int
	AuxBatchFactor int
	ScoreBatchSize int
	Workers        int

	SaveEvery int
	// ClusterK enables the Calinski-Harabasz diagnostic with k clusters.
	ClusterK int
	Charts   bool

	Store   storage.Store
	Metrics *metrics.Recorder
	Logger  *zap.Logger
}

type Result struct {
	RunID           string
	Diagnostics     []model.EpochDiagnostics
	AccuracyByEpoch []float64
	FinalAccuracy   float64
	SeenTotal       int
	Last            model.Checkpoint
}

// Scheduler drives the per-epoch pipeline: draw candidates, score them on
// the frozen classifier, resample, train, evaluate and checkpoint.
type Scheduler struct {
	cfg    Config
	pool   *pool.CandidatePool
	seen   *pool.SeenIndexSet
	rng    *rand.Rand
	logger *zap.Logger

	evalLoader  *dataset.Loader
	statsLoader *dataset.Loader
}

func NewScheduler(cfg Config) (*Scheduler, error) {
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	candidates, err := pool.New(cfg.Aux.Len(), cfg.CandidateSize, cfg.PoolMode)
	if err != nil {
		return nil, err
	}
	evalLoader, err := dataset.NewLoader(cfg.Eval, dataset.LoaderConfig{BatchSize: cfg.ScoreBatchSize, Workers: cfg.Workers})
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		cfg:        cfg,
		pool:       candidates,
		seen:       pool.NewSeenIndexSet(),
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		logger:     logging.OrNop(cfg.Logger).With(zap.String("run_id", cfg.RunID)),
		evalLoader: evalLoader,
	}
	if cfg.Scoring.NeedsFeatures() {
		s.statsLoader, err = dataset.NewLoader(cfg.Train, dataset.LoaderConfig{BatchSize: cfg.ScoreBatchSize, Workers: cfg.Workers})
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func validate(cfg *Config) error {
	if cfg.RunID == "" {
		return errors.New("run id is required")
	}
	if cfg.Train == nil || cfg.Eval == nil || cfg.Aux == nil {
		return errors.New("train, eval and auxiliary datasets are required")
	}
	if cfg.Classifier == nil || cfg.Trainer == nil || cfg.Schedule == nil || cfg.Resampler == nil {
		return errors.New("classifier, trainer, schedule and resampler are required")
	}
	if cfg.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0, got %d", cfg.Epochs)
	}
	if cfg.WarmupEpochs < 0 {
		return fmt.Errorf("warmup epochs must be >= 0, got %d", cfg.WarmupEpochs)
	}
	if cfg.NumClasses <= 0 {
		return fmt.Errorf("num classes must be > 0, got %d", cfg.NumClasses)
	}
	if cfg.SampledSize <= 0 {
		return fmt.Errorf("sampled size must be > 0, got %d", cfg.SampledSize)
	}
	if cfg.CandidateSize < cfg.SampledSize {
		return fmt.Errorf("%w: candidate size %d < sampled size %d", resample.ErrPoolTooSmall, cfg.CandidateSize, cfg.SampledSize)
	}
	if cfg.CandidateSize > cfg.Aux.Len() {
		return fmt.Errorf("candidate size %d exceeds auxiliary dataset size %d", cfg.CandidateSize, cfg.Aux.Len())
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch size must be > 0, got %d", cfg.BatchSize)
	}
	if cfg.AuxBatchFactor <= 0 {
		cfg.AuxBatchFactor = 1
	}
	if cfg.ScoreBatchSize <= 0 {
		cfg.ScoreBatchSize = DefaultScoreBatchSize
	}
	if cfg.SaveEvery < 0 {
		return fmt.Errorf("save every must be >= 0, got %d", cfg.SaveEvery)
	}
	dim := cfg.Train.Dim()
	if cfg.Eval.Dim() != dim || cfg.Aux.Dim() != dim {
		return fmt.Errorf("dataset dims differ: train=%d eval=%d aux=%d", dim, cfg.Eval.Dim(), cfg.Aux.Dim())
	}
	if cfg.Warmup == nil {
		cfg.Warmup = &resample.Uniform{Total: cfg.Aux.Len()}
	}
	if cfg.WarmupEpochs > 0 && cfg.SampledSize > cfg.Aux.Len() {
		return fmt.Errorf("%w: auxiliary size %d < sampled size %d", resample.ErrPoolTooSmall, cfg.Aux.Len(), cfg.SampledSize)
	}
	if !ignoresScores(cfg.Resampler) {
		if cfg.Scoring.NeedsFeatures() {
			if _, ok := cfg.Classifier.(classifier.FeatureClassifier); !ok {
				return fmt.Errorf("%w: %s", scoring.ErrFeaturesUnsupported, cfg.Classifier.Arch())
			}
		}
		if cfg.Scoring.NeedsRejectClass() && cfg.Classifier.NumOutputs() != cfg.NumClasses+1 {
			return fmt.Errorf("%s scoring needs %d outputs, classifier has %d", cfg.Scoring, cfg.NumClasses+1, cfg.Classifier.NumOutputs())
		}
		if _, weighted := cfg.Resampler.(*resample.WeightedRandom); weighted && !cfg.Scoring.NonNegative() {
			return fmt.Errorf("%w: %s scores can be negative", resample.ErrInvalidWeights, cfg.Scoring)
		}
	}
	if cfg.ClusterK == 1 || cfg.ClusterK < 0 {
		return fmt.Errorf("cluster diagnostic needs k >= 2, got %d", cfg.ClusterK)
	}
	return nil
}

func ignoresScores(r resample.Resampler) bool {
	free, ok := r.(resample.ScoreFree)
	return ok && free.IgnoresScores()
}

// PhaseOf reports the phase of a 1-based epoch.
func (s *Scheduler) PhaseOf(epoch int) Phase {
	if epoch <= s.cfg.WarmupEpochs {
		return PhaseWarmup
	}
	return PhaseActive
}

// Seen exposes the accumulated selection history.
func (s *Scheduler) Seen() *pool.SeenIndexSet {
	return s.seen
}

func (s *Scheduler) Run(ctx context.Context) (Result, error) {
	result := Result{RunID: s.cfg.RunID}
	s.logger.Info("run started",
		zap.Int("epochs", s.cfg.Epochs),
		zap.Int("warmup_epochs", s.cfg.WarmupEpochs),
		zap.String("resampler", s.cfg.Resampler.Name()),
		zap.Stringer("scoring", s.cfg.Scoring),
		zap.Int("candidate_size", s.cfg.CandidateSize),
		zap.Int("sampled_size", s.cfg.SampledSize),
	)
	for epoch := 1; epoch <= s.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		diag, checkpoint, err := s.runEpoch(ctx, epoch)
		if err != nil {
			return result, fmt.Errorf("epoch %d: %w", epoch, err)
		}
		result.Diagnostics = append(result.Diagnostics, diag)
		result.AccuracyByEpoch = append(result.AccuracyByEpoch, diag.ValidationAcc)
		result.FinalAccuracy = diag.ValidationAcc
		result.SeenTotal = diag.SeenTotal
		if checkpoint != nil && checkpoint.Last {
			result.Last = *checkpoint
		}
		if s.cfg.Store != nil {
			if err := s.cfg.Store.SaveEpochDiagnostics(ctx, s.cfg.RunID, result.Diagnostics); err != nil {
				return result, fmt.Errorf("save epoch diagnostics: %w", err)
			}
		}
		s.cfg.Metrics.ObserveEpoch(diag)
	}
	s.logger.Info("run finished",
		zap.Float64("final_accuracy", result.FinalAccuracy),
		zap.Int("seen_total", result.SeenTotal),
	)
	return result, nil
}

func (s *Scheduler) epochRNG(epoch int) (*rand.Rand, int64) {
	if seeder, ok := s.cfg.Resampler.(resample.EpochSeeder); ok {
		seed := seeder.EpochSeed(epoch)
		return rand.New(rand.NewSource(seed)), seed
	}
	return s.rng, 0
}

func (s *Scheduler) runEpoch(ctx context.Context, epoch int) (model.EpochDiagnostics, *model.Checkpoint, error) {
	started := time.Now()
	phase := s.PhaseOf(epoch)
	rng, seed := s.epochRNG(epoch)
	log := s.logger.With(zap.Int("epoch", epoch), zap.String("phase", string(phase)))

	diag := model.EpochDiagnostics{
		Epoch:     epoch,
		Phase:     string(phase),
		Seed:      seed,
		Requested: s.cfg.SampledSize,
	}

	candidates := s.pool.Draw(rng)
	diag.CandidateCount = len(candidates)

	var (
		selection model.SelectionResult
		features  [][]float64
		err       error
	)
	if phase == PhaseWarmup {
		selection, err = s.cfg.Warmup.Resample(rng, candidates, model.ScoreVector{}, s.cfg.SampledSize)
		if err != nil {
			return diag, nil, fmt.Errorf("warmup selection: %w", err)
		}
	} else {
		var scores model.ScoreVector
		if !ignoresScores(s.cfg.Resampler) {
			scoreStarted := time.Now()
			scores, features, err = s.score(ctx, candidates)
			if err != nil {
				return diag, nil, err
			}
			diag.ScoreDurationMS = time.Since(scoreStarted).Milliseconds()
			summary, err := stats.SummarizeScores(scores.Values)
			if err != nil {
				return diag, nil, err
			}
			diag.Scores = &summary
		}
		if aware, ok := s.cfg.Resampler.(resample.ProgressAware); ok {
			aware.BeginEpoch(epoch, s.cfg.Epochs)
		}
		selection, err = s.cfg.Resampler.Resample(rng, candidates, scores, s.cfg.SampledSize)
		if err != nil {
			return diag, nil, fmt.Errorf("resample %s: %w", s.cfg.Resampler.Name(), err)
		}
	}
	if selection.Len() == 0 {
		return diag, nil, errors.New("resampler selected no samples")
	}
	if selection.Shrunk {
		log.Warn("quantile slice shrunk past the candidate pool",
			zap.Int("requested", selection.Requested),
			zap.Int("selected", selection.Len()),
		)
	}
	diag.Selected = selection.Len()
	diag.FallbackFilled = selection.Fallback
	diag.Shrunk = selection.Shrunk
	diag.Mixture = selection.Mixture
	diag.Histogram = selection.Histogram
	diag.DiversityRatio = s.seen.Observe(selection.Indices)
	diag.SeenTotal = s.seen.Len()

	if s.cfg.ClusterK > 0 && features != nil {
		if ch, err := s.clusterQuality(candidates, features, selection.Indices); err != nil {
			log.Warn("cluster diagnostic skipped", zap.Error(err))
		} else {
			diag.CalinskiHarabasz = &ch
		}
	}
	if s.cfg.Charts && s.cfg.RunDir != "" && selection.Histogram != nil {
		if err := stats.WriteHistogramChart(stats.HistogramChartPath(s.cfg.RunDir, epoch), epoch, *selection.Histogram); err != nil {
			log.Warn("histogram chart skipped", zap.Error(err))
		}
	}

	trained, err := s.train(ctx, rng, selection.Indices)
	if err != nil {
		return diag, nil, err
	}
	s.cfg.Schedule.StepEpoch()
	diag.TrainLoss = trained.Loss
	diag.LearningRate = s.cfg.Schedule.LR()

	evaluation, err := classifier.Evaluate(ctx, s.cfg.Classifier, s.evalLoader, s.cfg.NumClasses)
	if err != nil {
		return diag, nil, fmt.Errorf("evaluate: %w", err)
	}
	diag.ValidationLoss = evaluation.Loss
	diag.ValidationAcc = evaluation.Accuracy

	checkpoint, err := s.checkpoint(ctx, epoch, evaluation.Accuracy)
	if err != nil {
		return diag, nil, err
	}
	diag.CheckpointWritten = checkpoint != nil
	diag.EpochDurationMS = time.Since(started).Milliseconds()

	log.Info("epoch complete",
		zap.Int("selected", diag.Selected),
		zap.Int("fallback_filled", diag.FallbackFilled),
		zap.Float64("diversity_ratio", diag.DiversityRatio),
		zap.Float64("train_loss", diag.TrainLoss),
		zap.Float64("validation_accuracy", diag.ValidationAcc),
		zap.Float64("lr", diag.LearningRate),
	)
	return diag, checkpoint, nil
}

// score runs the scoring pass over the candidates on the frozen classifier.
func (s *Scheduler) score(ctx context.Context, candidates model.CandidateSet) (model.ScoreVector, [][]float64, error) {
	opts := scoring.Options{CaptureFeatures: s.cfg.ClusterK > 0}
	if _, ok := s.cfg.Classifier.(classifier.FeatureClassifier); !ok {
		opts.CaptureFeatures = false
	}
	if s.cfg.Scoring.NeedsFeatures() {
		fclf := s.cfg.Classifier.(classifier.FeatureClassifier)
		classStats, err := estimator.ComputeClassStatistics(ctx, s.statsLoader, fclf, s.cfg.NumClasses)
		if err != nil {
			return model.ScoreVector{}, nil, fmt.Errorf("class statistics: %w", err)
		}
		opts.Stats = classStats
	}
	subset, err := dataset.NewSubset(s.cfg.Aux, candidates)
	if err != nil {
		return model.ScoreVector{}, nil, err
	}
	loader, err := dataset.NewLoader(subset, dataset.LoaderConfig{BatchSize: s.cfg.ScoreBatchSize, Workers: s.cfg.Workers})
	if err != nil {
		return model.ScoreVector{}, nil, err
	}
	scores, features, err := scoring.Compute(ctx, s.cfg.Classifier, loader, s.cfg.Scoring, opts)
	if err != nil {
		return model.ScoreVector{}, nil, fmt.Errorf("score candidates: %w", err)
	}
	return scores, features, nil
}

func (s *Scheduler) clusterQuality(candidates model.CandidateSet, features [][]float64, selected []int) (float64, error) {
	position := make(map[int]int, len(candidates))
	for p, idx := range candidates {
		position[idx] = p
	}
	rows := make([][]float64, 0, len(selected))
	for _, idx := range selected {
		if p, ok := position[idx]; ok {
			rows = append(rows, features[p])
		}
	}
	return resample.CalinskiHarabasz(rows, s.cfg.ClusterK)
}

func (s *Scheduler) train(ctx context.Context, rng *rand.Rand, selected []int) (trainer.EpochStats, error) {
	selectionSet, err := dataset.NewSubset(s.cfg.Aux, selected)
	if err != nil {
		return trainer.EpochStats{}, err
	}
	idLoader, err := dataset.NewLoader(s.cfg.Train, dataset.LoaderConfig{
		BatchSize: s.cfg.BatchSize,
		Workers:   s.cfg.Workers,
		Shuffle:   rand.New(rand.NewSource(rng.Int63())),
	})
	if err != nil {
		return trainer.EpochStats{}, err
	}
	auxLoader, err := dataset.NewLoader(selectionSet, dataset.LoaderConfig{
		BatchSize: s.cfg.BatchSize * s.cfg.AuxBatchFactor,
		Workers:   s.cfg.Workers,
		Shuffle:   rand.New(rand.NewSource(rng.Int63())),
	})
	if err != nil {
		return trainer.EpochStats{}, err
	}
	trained, err := s.cfg.Trainer.TrainEpoch(ctx, s.cfg.Classifier, idLoader, auxLoader, s.cfg.Schedule)
	if err != nil {
		return trainer.EpochStats{}, err
	}
	return trained, nil
}

// checkpoint writes a periodic checkpoint every SaveEvery epochs and the
// last checkpoint at the end of the run. It returns nil when neither is due.
func (s *Scheduler) checkpoint(ctx context.Context, epoch int, accuracy float64) (*model.Checkpoint, error) {
	periodic := s.cfg.SaveEvery > 0 && epoch%s.cfg.SaveEvery == 0
	last := epoch == s.cfg.Epochs
	if !periodic && !last {
		return nil, nil
	}
	state := s.cfg.Schedule.State()
	c := model.Checkpoint{
		VersionedRecord: storage.Versioned(),
		RunID:           s.cfg.RunID,
		Epoch:           epoch,
		Arch:            s.cfg.Classifier.Arch(),
		Params:          classifier.Snapshot(s.cfg.Classifier),
		Accuracy:        accuracy,
		Schedule:        &state,
	}
	if s.cfg.Optimizer != nil {
		c.Optimizer = s.cfg.Optimizer.State()
	}
	if s.cfg.Store != nil {
		if err := s.cfg.Store.SaveCheckpoint(ctx, c); err != nil {
			return nil, fmt.Errorf("save checkpoint: %w", err)
		}
	}
	if s.cfg.RunDir != "" {
		if periodic {
			if _, err := stats.WriteCheckpointFile(s.cfg.RunDir, c); err != nil {
				return nil, fmt.Errorf("write checkpoint: %w", err)
			}
		}
		if last {
			lastCopy := c
			lastCopy.Last = true
			if _, err := stats.WriteCheckpointFile(s.cfg.RunDir, lastCopy); err != nil {
				return nil, fmt.Errorf("write last checkpoint: %w", err)
			}
		}
	}
	c.Last = last
	return &c, nil
}
