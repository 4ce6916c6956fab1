package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"oodresample/internal/model"
)

const namespace = "oodresample"

// Recorder owns a private registry so several runs can coexist in one
// process.
type Recorder struct {
	registry *prometheus.Registry

	epochs         *prometheus.CounterVec
	selected       prometheus.Gauge
	requested      prometheus.Gauge
	fallback       prometheus.Counter
	shrunk         prometheus.Counter
	diversity      prometheus.Gauge
	seen           prometheus.Gauge
	scoreDuration  prometheus.Observer
	epochDuration  prometheus.Observer
	learningRate   prometheus.Gauge
	validationAcc  prometheus.Gauge
	validationLoss prometheus.Gauge
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		epochs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "epochs_total",
			Help:      "Completed epochs by scheduler phase.",
		}, []string{"phase"}),
		selected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "selection_size",
			Help:      "Auxiliary samples selected in the last epoch.",
		}),
		requested: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "selection_requested",
			Help:      "Auxiliary samples requested in the last epoch.",
		}),
		fallback: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_filled_total",
			Help:      "Samples filled uniformly because their histogram bin was sparse.",
		}),
		shrunk: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quantile_shrunk_total",
			Help:      "Epochs whose quantile slice ran past the candidate set.",
		}),
		diversity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "diversity_ratio",
			Help:      "Fraction of the last selection never selected before.",
		}),
		seen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "seen_indices",
			Help:      "Distinct auxiliary indices selected so far.",
		}),
		learningRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "learning_rate",
			Help:      "Learning rate at the end of the last epoch.",
		}),
		validationAcc: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "validation_accuracy",
			Help:      "Held-out accuracy after the last epoch.",
		}),
		validationLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "validation_loss",
			Help:      "Held-out cross-entropy after the last epoch.",
		}),
	}
	scoreDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "score_pass_seconds",
		Help:      "Duration of candidate scoring passes.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})
	epochDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "epoch_seconds",
		Help:      "Duration of whole epochs.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
	})
	r.scoreDuration = scoreDuration
	r.epochDuration = epochDuration
	r.registry.MustRegister(
		r.epochs, r.selected, r.requested, r.fallback, r.shrunk, r.diversity, r.seen,
		scoreDuration, epochDuration, r.learningRate, r.validationAcc, r.validationLoss,
	)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveEpoch folds one epoch's diagnostics into the collectors.
func (r *Recorder) ObserveEpoch(d model.EpochDiagnostics) {
	if r == nil {
		return
	}
	r.epochs.WithLabelValues(d.Phase).Inc()
	r.selected.Set(float64(d.Selected))
	r.requested.Set(float64(d.Requested))
	r.fallback.Add(float64(d.FallbackFilled))
	if d.Shrunk {
		r.shrunk.Inc()
	}
	r.diversity.Set(d.DiversityRatio)
	r.seen.Set(float64(d.SeenTotal))
	if d.ScoreDurationMS > 0 {
		r.scoreDuration.Observe((time.Duration(d.ScoreDurationMS) * time.Millisecond).Seconds())
	}
	r.epochDuration.Observe((time.Duration(d.EpochDurationMS) * time.Millisecond).Seconds())
	r.learningRate.Set(d.LearningRate)
	r.validationAcc.Set(d.ValidationAcc)
	r.validationLoss.Set(d.ValidationLoss)
}

// WriteTextfile dumps the registry in the node-exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
