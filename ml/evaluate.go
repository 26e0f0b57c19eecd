package ml

import (
	"sync"
)

// Evaluation is the clean-graph result of running a model over a dataset.
type Evaluation struct {
	Predictions [][]int     // [head][doc]
	Scores      [][]float64 // [doc] masked gate scores, channel-major
	Metrics     []TaskMetrics
	Cost        float64 // mean weighted NLL without dropout
}

// Monitor returns the accuracy of the named head, or of the first head when
// name is empty or unknown.
func (e *Evaluation) Monitor(name string) float64 {
	for _, m := range e.Metrics {
		if m.Name == name {
			return m.Accuracy
		}
	}
	return e.Metrics[0].Accuracy
}

type evalResult struct {
	preds  [][]int
	scores *Matrix
	cost   float64
}

// Evaluate runs the inference graph over ds in batches of batchSize spread
// across workers goroutines.
func Evaluate(model *Model, ds *Dataset, batchSize, workers int) *Evaluation {
	heads := len(model.Classifier.Heads)
	numBatches := ds.NumBatches(batchSize)
	workers = max(1, min(workers, numBatches))

	results := make([]evalResult, numBatches)
	jobs := make(chan int)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				batch := ds.Batch(i, batchSize)
				labels := batch.Labels(heads)
				pass := model.Forward(batch, false, nil)
				loss := model.Loss(pass, labels, Objective{})
				results[i] = evalResult{
					preds:  pass.Predictions(),
					scores: pass.Scores(),
					cost:   loss.Total * float64(len(batch.Docs)),
				}
			}
		}()
	}
	for i := 0; i < numBatches; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	ev := &Evaluation{Predictions: make([][]int, heads)}
	for _, r := range results {
		for h := range r.preds {
			ev.Predictions[h] = append(ev.Predictions[h], r.preds[h]...)
		}
		for b := 0; b < r.scores.rows; b++ {
			ev.Scores = append(ev.Scores, append([]float64(nil), r.scores.Row(b)...))
		}
		ev.Cost += r.cost
	}
	if ds.Len() > 0 {
		ev.Cost /= float64(ds.Len())
	}

	all := &Batch{Docs: ds.Docs}
	truth := all.Labels(heads)
	for h, head := range model.Classifier.Heads {
		ev.Metrics = append(ev.Metrics, ComputeMetrics(head.Name, head.Layer.Out(), truth[h], ev.Predictions[h]))
	}
	return ev
}
