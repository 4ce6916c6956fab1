package schedule

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"oodresample/internal/model"
)

var ErrUnknownSchedule = errors.New("unknown learning-rate schedule")

// Schedule tracks the learning rate across optimizer steps and epochs.
// StepBatch is called after every optimizer step, StepEpoch after every
// epoch; each schedule advances on the one it cares about.
type Schedule interface {
	Name() string
	LR() float64
	StepBatch()
	StepEpoch()
	State() model.ScheduleState
	Restore(model.ScheduleState) error
}

type Config struct {
	Name          string
	BaseLR        float64
	MinLR         float64
	Epochs        int
	StepsPerEpoch int
	// Milestones are fractions of Epochs at which MultiStep decays.
	Milestones []float64
	Gamma      float64
}

const (
	DefaultMinLR = 1e-6
	DefaultGamma = 0.1
)

func Parse(cfg Config) (Schedule, error) {
	if cfg.BaseLR <= 0 {
		return nil, fmt.Errorf("base learning rate must be > 0, got %v", cfg.BaseLR)
	}
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be > 0, got %d", cfg.Epochs)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case "lambda", "cosine":
		if cfg.StepsPerEpoch <= 0 {
			return nil, fmt.Errorf("cosine schedule needs steps per epoch > 0, got %d", cfg.StepsPerEpoch)
		}
		minLR := cfg.MinLR
		if minLR <= 0 {
			minLR = DefaultMinLR
		}
		return &Cosine{BaseLR: cfg.BaseLR, MinLR: minLR, TotalSteps: cfg.Epochs * cfg.StepsPerEpoch}, nil
	case "multistep":
		gamma := cfg.Gamma
		if gamma <= 0 {
			gamma = DefaultGamma
		}
		milestones := make([]int, 0, len(cfg.Milestones))
		for _, f := range cfg.Milestones {
			if f < 0 || f > 1 {
				return nil, fmt.Errorf("milestone fraction must be in [0,1], got %v", f)
			}
			milestones = append(milestones, int(float64(cfg.Epochs)*f))
		}
		sort.Ints(milestones)
		return &MultiStep{BaseLR: cfg.BaseLR, Milestones: milestones, Gamma: gamma}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSchedule, cfg.Name)
	}
}

// Cosine anneals from BaseLR to MinLR over TotalSteps optimizer steps.
type Cosine struct {
	BaseLR     float64
	MinLR      float64
	TotalSteps int
	step       int
}

func (c *Cosine) Name() string { return "cosine" }

func (c *Cosine) LR() float64 {
	progress := float64(c.step) / float64(c.TotalSteps)
	return c.MinLR + (c.BaseLR-c.MinLR)*0.5*(1+math.Cos(progress*math.Pi))
}

func (c *Cosine) StepBatch() { c.step++ }

func (c *Cosine) StepEpoch() {}

func (c *Cosine) State() model.ScheduleState {
	return model.ScheduleState{Name: c.Name(), Step: c.step, BaseLR: c.BaseLR, LR: c.LR()}
}

func (c *Cosine) Restore(s model.ScheduleState) error {
	if s.Name != c.Name() {
		return fmt.Errorf("cannot restore %s state into %s schedule", s.Name, c.Name())
	}
	c.step = s.Step
	return nil
}

// MultiStep multiplies BaseLR by Gamma once per milestone epoch reached.
type MultiStep struct {
	BaseLR     float64
	Milestones []int
	Gamma      float64
	epoch      int
}

func (m *MultiStep) Name() string { return "multistep" }

func (m *MultiStep) LR() float64 {
	passed := sort.SearchInts(m.Milestones, m.epoch+1)
	return m.BaseLR * math.Pow(m.Gamma, float64(passed))
}

func (m *MultiStep) StepBatch() {}

func (m *MultiStep) StepEpoch() { m.epoch++ }

func (m *MultiStep) State() model.ScheduleState {
	return model.ScheduleState{Name: m.Name(), Step: m.epoch, BaseLR: m.BaseLR, LR: m.LR()}
}

func (m *MultiStep) Restore(s model.ScheduleState) error {
	if s.Name != m.Name() {
		return fmt.Errorf("cannot restore %s state into %s schedule", s.Name, m.Name())
	}
	m.epoch = s.Step
	return nil
}
