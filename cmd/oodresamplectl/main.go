package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"oodresample/internal/logging"
	"oodresample/internal/storage"
	api "oodresample/pkg/oodresample"
)

const (
	runsDir    = "runs"
	exportsDir = "exports"
	dbPathDef  = "oodresample.db"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "reset":
		return runReset(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "diagnostics":
		return runDiagnostics(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "checkpoint":
		return runCheckpoint(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

type storeFlags struct {
	kind   *string
	dbPath *string
}

func addStoreFlags(fs *flag.FlagSet) storeFlags {
	return storeFlags{
		kind:   fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite"),
		dbPath: fs.String("db-path", dbPathDef, "sqlite database path"),
	}
}

func (s storeFlags) client(logger *zap.Logger) (*api.Client, error) {
	return api.New(api.Options{
		StoreKind:  *s.kind,
		DBPath:     *s.dbPath,
		RunsDir:    runsDir,
		ExportsDir: exportsDir,
		Logger:     logger,
	})
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := sf.client(nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *sf.kind)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := sf.client(nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Reset(ctx); err != nil {
		return err
	}

	fmt.Printf("reset store=%s\n", *sf.kind)
	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional run config path (.json, .yaml or .yml)")
	logLevel := fs.String("log-level", "info", "log level: debug|info|warn|error")
	sf := addStoreFlags(fs)

	seed := fs.Int64("seed", 1, "rng seed")
	epochs := fs.Int("epochs", 10, "training epochs")
	warmupEpochs := fs.Int("warmup-epochs", 0, "epochs of uniform auxiliary sampling before resampling starts")
	scoringName := fs.String("scoring", "max_prob", "scoring variant: max_prob|max_logit_softplus|energy|negative_max_logit|negative_max_prob|abs_class_prob|abs_class_logit|mahalanobis_min")
	distribution := fs.String("distribution", "", "distribution type overriding --scoring: negative_logit|maha")
	resamplerName := fs.String("resampler", "quantile", "resampler: quantile|weighted|gmm|greedy|uniform")
	quantile := fs.Float64("quantile", 0.125, "quantile offset fraction for quantile and greedy")
	strict := fs.Bool("strict", false, "fail instead of shrinking when the quantile slice overflows")
	replacement := fs.Bool("replacement", false, "weighted sampling with replacement")
	policy := fs.String("policy", "fold_extremes", "gmm target policy: matched|equal|fold_extremes|coefficients")
	coefficients := fs.Float64Slice("coefficients", nil, "per-component coefficients for --policy=coefficients")
	decayComponent := fs.Int("decay-component", 0, "1-based component whose coefficient decays over training (0 disables)")
	decayFrom := fs.Float64("decay-from", 0, "coefficient of --decay-component at the start of training")
	decayTo := fs.Float64("decay-to", 0, "coefficient of --decay-component at the last epoch")
	components := fs.Int("components", 3, "gmm mixture components")
	bins := fs.Int("bins", 100, "gmm histogram bins")
	baseSeed := fs.Int64("base-seed", 0, "root of the greedy seed chain (defaults to --seed)")
	poolMode := fs.String("pool-mode", "var", "candidate pool mode: fix|var")
	candidateSize := fs.Int("candidate-size", 0, "candidate pool size K (0 derives it from --size-factor)")
	sizeFactor := fs.Float64("size-factor", 4, "K = size-factor * sampled-size when --candidate-size is 0")
	sampledSize := fs.Int("sampled-size", 1000, "auxiliary samples per epoch m")
	batchSize := fs.Int("batch-size", 128, "in-distribution batch size")
	auxBatchFactor := fs.Int("aux-batch-factor", 2, "auxiliary batch size as a multiple of --batch-size")
	workers := fs.Int("workers", 4, "loader worker count")
	loss := fs.String("loss", "uniform", "outlier-exposure loss: uniform|energy|abs")
	beta := fs.Float64("beta", 0.5, "auxiliary loss weight")
	lr := fs.Float64("lr", 0.1, "base learning rate")
	scheduleName := fs.String("schedule", "cosine", "learning-rate schedule: cosine|multistep")
	momentum := fs.Float64("momentum", 0.9, "sgd momentum")
	weightDecay := fs.Float64("weight-decay", 5e-4, "sgd weight decay")
	nesterov := fs.Bool("nesterov", true, "nesterov momentum")
	saveEvery := fs.Int("save-every", 0, "checkpoint cadence in epochs (0 keeps only the last)")
	pretrained := fs.String("pretrained", "", "pretrained checkpoint path")
	clusterDiagnosis := fs.Int("cluster-diagnosis", 0, "k for the Calinski-Harabasz selection diagnostic (0 disables)")
	charts := fs.Bool("charts", false, "write per-epoch histogram charts for gmm")
	metricsOut := fs.String("metrics-out", "", "write prometheus metrics textfile to this path")
	trainCSV := fs.String("train-csv", "", "labelled in-distribution training CSV")
	evalCSV := fs.String("eval-csv", "", "labelled held-out CSV")
	auxCSV := fs.String("aux-csv", "", "unlabelled auxiliary CSV")
	labelColumn := fs.Int("label-column", 0, "label column index of the labelled CSVs")
	hasHeader := fs.Bool("has-header", false, "CSV files start with a header row")
	classes := fs.Int("classes", 10, "synthetic in-distribution classes")
	dim := fs.Int("dim", 16, "synthetic feature dimension")
	perClass := fs.Int("per-class", 500, "synthetic training samples per class")
	evalPerClass := fs.Int("eval-per-class", 100, "synthetic held-out samples per class")
	separation := fs.Float64("separation", 4, "synthetic class center distance from the origin")
	auxSize := fs.Int("aux-size", 1<<17, "synthetic auxiliary pool size")
	nearFraction := fs.Float64("near-fraction", 0.25, "share of near-distribution auxiliary samples")
	dataSeed := fs.Int64("data-seed", 7, "synthetic data seed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	flagValues := map[string]any{
		"seed":              *seed,
		"epochs":            *epochs,
		"warmup-epochs":     *warmupEpochs,
		"scoring":           *scoringName,
		"distribution":      *distribution,
		"resampler":         *resamplerName,
		"quantile":          *quantile,
		"strict":            *strict,
		"replacement":       *replacement,
		"policy":            *policy,
		"coefficients":      *coefficients,
		"decay-component":   *decayComponent,
		"decay-from":        *decayFrom,
		"decay-to":          *decayTo,
		"components":        *components,
		"bins":              *bins,
		"base-seed":         *baseSeed,
		"pool-mode":         *poolMode,
		"candidate-size":    *candidateSize,
		"size-factor":       *sizeFactor,
		"sampled-size":      *sampledSize,
		"batch-size":        *batchSize,
		"aux-batch-factor":  *auxBatchFactor,
		"workers":           *workers,
		"loss":              *loss,
		"beta":              *beta,
		"lr":                *lr,
		"schedule":          *scheduleName,
		"momentum":          *momentum,
		"weight-decay":      *weightDecay,
		"nesterov":          *nesterov,
		"save-every":        *saveEvery,
		"pretrained":        *pretrained,
		"cluster-diagnosis": *clusterDiagnosis,
		"charts":            *charts,
		"metrics-out":       *metricsOut,
		"train-csv":         *trainCSV,
		"eval-csv":          *evalCSV,
		"aux-csv":           *auxCSV,
		"label-column":      *labelColumn,
		"has-header":        *hasHeader,
		"classes":           *classes,
		"dim":               *dim,
		"per-class":         *perClass,
		"eval-per-class":    *evalPerClass,
		"separation":        *separation,
		"aux-size":          *auxSize,
		"near-fraction":     *nearFraction,
		"data-seed":         *dataSeed,
	}
	// Without a config file every flag applies; with one, only explicit flags.
	setFlags := make(map[string]bool)
	visit := fs.VisitAll
	var req api.RunRequest
	if *configPath != "" {
		loaded, err := loadRunRequestFromConfig(*configPath)
		if err != nil {
			return err
		}
		req = loaded
		visit = fs.Visit
	}
	visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})
	if !fs.Changed("base-seed") {
		delete(setFlags, "base-seed")
	}
	if err := overrideFromFlags(&req, setFlags, flagValues); err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{Level: *logLevel, Out: os.Stderr, Errors: os.Stderr})
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	client, err := sf.client(logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Run(ctx, req)
	if err != nil {
		return err
	}
	fmt.Printf("run completed run_id=%s resampler=%s epochs=%d seed=%d\n", summary.RunID, req.Resampler, len(summary.AccuracyByEpoch), req.Seed)
	for _, d := range summary.Diagnostics {
		fmt.Printf("epoch=%d phase=%s selected=%s fallback=%d diversity=%.4f accuracy=%.6f\n",
			d.Epoch, d.Phase, humanize.Comma(int64(d.Selected)), d.FallbackFilled, d.DiversityRatio, d.ValidationAcc)
	}
	fmt.Printf("final_accuracy=%.6f seen_total=%s\n", summary.FinalAccuracy, humanize.Comma(int64(summary.SeenTotal)))
	fmt.Printf("artifacts_dir=%s\n", filepath.Clean(summary.ArtifactsDir))
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs as JSON")
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := sf.client(nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runs, err := client.Runs(ctx, api.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs")
		return nil
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}
	for _, r := range runs {
		fmt.Printf("run_id=%s created_at=%s scoring=%s resampler=%s seed=%d epochs=%d candidates=%s sampled=%s final_accuracy=%.6f seen_total=%s\n",
			r.RunID,
			r.CreatedAtUTC,
			r.Scoring,
			r.Resampler,
			r.Seed,
			r.Epochs,
			humanize.Comma(int64(r.CandidateSize)),
			humanize.Comma(int64(r.SampledSize)),
			r.FinalAccuracy,
			humanize.Comma(int64(r.SeenTotal)),
		)
	}
	return nil
}

func runDiagnostics(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("diagnostics", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show diagnostics for the most recent run from run index")
	limit := fs.Int("limit", 50, "max epochs to print (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit diagnostics as JSON")
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("diagnostics requires --run-id or --latest")
	}
	if *limit < 0 {
		*limit = 0
	}

	client, err := sf.client(nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	diagnostics, err := client.Diagnostics(ctx, api.DiagnosticsRequest{
		RunID:  *runID,
		Latest: *latest,
		Limit:  *limit,
	})
	if err != nil {
		return err
	}
	if len(diagnostics) == 0 {
		fmt.Println("no diagnostics")
		return nil
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(diagnostics)
	}

	for _, d := range diagnostics {
		scoreMean, scoreStd := 0.0, 0.0
		if d.Scores != nil {
			scoreMean, scoreStd = d.Scores.Mean, d.Scores.StdDev
		}
		fmt.Printf("epoch=%d phase=%s seed=%d candidates=%s requested=%s selected=%s fallback=%d shrunk=%t diversity=%.4f seen_total=%s score_mean=%.6f score_std=%.6f lr=%.6f train_loss=%.6f val_loss=%.6f val_acc=%.6f checkpoint=%t\n",
			d.Epoch,
			d.Phase,
			d.Seed,
			humanize.Comma(int64(d.CandidateCount)),
			humanize.Comma(int64(d.Requested)),
			humanize.Comma(int64(d.Selected)),
			d.FallbackFilled,
			d.Shrunk,
			d.DiversityRatio,
			humanize.Comma(int64(d.SeenTotal)),
			scoreMean,
			scoreStd,
			d.LearningRate,
			d.TrainLoss,
			d.ValidationLoss,
			d.ValidationAcc,
			d.CheckpointWritten,
		)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}

	client, err := api.New(api.Options{StoreKind: "memory", RunsDir: runsDir, ExportsDir: exportsDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, api.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
	return nil
}

func runCheckpoint(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("checkpoint", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "inspect the most recent run from run index")
	epoch := fs.Int("epoch", storage.LastEpoch, "checkpoint epoch (-1 for the newest)")
	jsonOut := fs.Bool("json", false, "emit checkpoint summary as JSON")
	sf := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("checkpoint requires --run-id or --latest")
	}

	client, err := sf.client(nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Checkpoint(ctx, api.CheckpointRequest{RunID: *runID, Latest: *latest, Epoch: *epoch})
	if err != nil {
		return err
	}
	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	schedule := "none"
	if summary.Schedule != nil {
		schedule = fmt.Sprintf("%s@%d", summary.Schedule.Name, summary.Schedule.Step)
	}
	fmt.Printf("run_id=%s epoch=%d arch=%s accuracy=%.6f parameters=%s schedule=%s\n",
		summary.RunID,
		summary.Epoch,
		summary.Arch,
		summary.Accuracy,
		humanize.Comma(int64(summary.Parameters)),
		schedule,
	)
	return nil
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: oodresamplectl <init|reset|run|runs|diagnostics|export|checkpoint> [flags]", msg)
}
