package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeMetrics(t *testing.T) {
	truth := []int{0, 0, 1, 1, 2, 2}
	preds := []int{0, 1, 1, 1, 0, 2}
	// confusion (rows truth): [1 1 0] [0 2 0] [1 0 1]
	m := ComputeMetrics("type", 3, truth, preds)

	assert.Equal(t, "type", m.Name)
	assert.InDelta(t, 4.0/6, m.Accuracy, 1e-12)
	assert.InDeltaSlice(t, []float64{0.5, 2.0 / 3, 1}, m.Precisions(), 1e-12)
	assert.InDeltaSlice(t, []float64{0.5, 1, 0.5}, m.Recalls(), 1e-12)
	assert.InDeltaSlice(t, []float64{0.5, 0.8, 2.0 / 3}, m.F1s(), 1e-12)
	assert.InDelta(t, (0.5+0.8+2.0/3)/3, m.MacroF1, 1e-12)
	assert.Equal(t, 2, m.Classes[1].Support)
}

func TestComputeMetricsUndefinedRatios(t *testing.T) {
	m := ComputeMetrics("pop", 3, []int{0, 0}, []int{0, 0})
	assert.Equal(t, 1.0, m.Accuracy)
	assert.Zero(t, m.Classes[1].Precision)
	assert.Zero(t, m.Classes[2].Recall)

	empty := ComputeMetrics("pop", 2, nil, nil)
	assert.Zero(t, empty.Accuracy)
	assert.Len(t, empty.Classes, 2)
}
