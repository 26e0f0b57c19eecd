package ml

import (
	"github.com/montanaflynn/stats"
)

// ClassMetrics are the one-vs-rest scores of a single class.
type ClassMetrics struct {
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// TaskMetrics summarise predictions of one head.
type TaskMetrics struct {
	Name     string
	Accuracy float64
	Classes  []ClassMetrics
	MacroF1  float64
}

// ComputeMetrics scores preds against truth for a head with numClasses
// classes. Undefined ratios (no predictions or no support) are 0.
func ComputeMetrics(name string, numClasses int, truth, preds []int) TaskMetrics {
	tm := TaskMetrics{Name: name, Classes: make([]ClassMetrics, numClasses)}
	if len(truth) == 0 {
		return tm
	}

	tp := make([]float64, numClasses)
	predicted := make([]float64, numClasses)
	hits := make([]float64, len(truth))
	for i, y := range truth {
		tm.Classes[y].Support++
		predicted[preds[i]]++
		if preds[i] == y {
			tp[y]++
			hits[i] = 1
		}
	}
	tm.Accuracy, _ = stats.Mean(hits)

	f1s := make([]float64, numClasses)
	for c := range tm.Classes {
		cm := &tm.Classes[c]
		if predicted[c] > 0 {
			cm.Precision = tp[c] / predicted[c]
		}
		if cm.Support > 0 {
			cm.Recall = tp[c] / float64(cm.Support)
		}
		if cm.Precision+cm.Recall > 0 {
			cm.F1 = 2 * cm.Precision * cm.Recall / (cm.Precision + cm.Recall)
		}
		f1s[c] = cm.F1
	}
	tm.MacroF1, _ = stats.Mean(f1s)
	return tm
}

// Precisions returns the per-class precision vector.
func (tm TaskMetrics) Precisions() []float64 {
	out := make([]float64, len(tm.Classes))
	for i, c := range tm.Classes {
		out[i] = c.Precision
	}
	return out
}

func (tm TaskMetrics) Recalls() []float64 {
	out := make([]float64, len(tm.Classes))
	for i, c := range tm.Classes {
		out[i] = c.Recall
	}
	return out
}

func (tm TaskMetrics) F1s() []float64 {
	out := make([]float64, len(tm.Classes))
	for i, c := range tm.Classes {
		out[i] = c.F1
	}
	return out
}
