package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineAnnealsPerStep(t *testing.T) {
	s, err := Parse(Config{Name: "lambda", BaseLR: 0.1, Epochs: 2, StepsPerEpoch: 5})
	require.NoError(t, err)
	assert.InDelta(t, 0.1, s.LR(), 1e-12)

	s.StepEpoch()
	assert.InDelta(t, 0.1, s.LR(), 1e-12, "epoch steps do not move a cosine schedule")

	for i := 0; i < 5; i++ {
		s.StepBatch()
	}
	assert.InDelta(t, DefaultMinLR+(0.1-DefaultMinLR)*0.5, s.LR(), 1e-12)

	for i := 0; i < 5; i++ {
		s.StepBatch()
	}
	assert.InDelta(t, DefaultMinLR, s.LR(), 1e-12)
}

func TestMultiStepDecaysAtMilestones(t *testing.T) {
	s, err := Parse(Config{Name: "multistep", BaseLR: 1, Epochs: 10, Milestones: []float64{0.8, 0.5}})
	require.NoError(t, err)
	want := []float64{1, 1, 1, 1, 1, 0.1, 0.1, 0.1, 0.01, 0.01}
	for epoch, lr := range want {
		s.StepBatch()
		assert.InDelta(t, lr, s.LR(), 1e-12, "epoch %d", epoch)
		s.StepEpoch()
	}
}

func TestScheduleStateRoundTrip(t *testing.T) {
	s, err := Parse(Config{Name: "cosine", BaseLR: 0.1, Epochs: 4, StepsPerEpoch: 10})
	require.NoError(t, err)
	for i := 0; i < 17; i++ {
		s.StepBatch()
	}
	state := s.State()

	restored, err := Parse(Config{Name: "cosine", BaseLR: 0.1, Epochs: 4, StepsPerEpoch: 10})
	require.NoError(t, err)
	require.NoError(t, restored.Restore(state))
	assert.Equal(t, s.LR(), restored.LR())

	other, err := Parse(Config{Name: "multistep", BaseLR: 0.1, Epochs: 4})
	require.NoError(t, err)
	assert.Error(t, other.Restore(state))
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	_, err := Parse(Config{Name: "step", BaseLR: 0.1, Epochs: 1})
	assert.ErrorIs(t, err, ErrUnknownSchedule)
	_, err = Parse(Config{Name: "cosine", BaseLR: 0.1, Epochs: 1})
	assert.Error(t, err)
	_, err = Parse(Config{Name: "multistep", BaseLR: 0, Epochs: 1})
	assert.Error(t, err)
	_, err = Parse(Config{Name: "multistep", BaseLR: 0.1, Epochs: 1, Milestones: []float64{1.5}})
	assert.Error(t, err)
}
