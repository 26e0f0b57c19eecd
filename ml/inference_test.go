package ml

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictMatchesEvaluate(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	cfg := smallConfig()
	model, err := NewModel(cfg, nil, rng)
	require.NoError(t, err)
	ds := randomDataset(rng, cfg, 9)

	ev := Evaluate(model, ds, 4, 3)
	preds := Predict(model, ds.Docs)
	require.Len(t, preds, ds.Len())
	require.Len(t, ev.Predictions, 2)
	require.Len(t, ev.Scores, ds.Len())

	for b, p := range preds {
		for h := range p.Labels {
			assert.Equal(t, ev.Predictions[h][b], p.Labels[h])
			sum := 0.0
			for _, v := range p.Probs[h] {
				sum += v
			}
			assert.InDelta(t, 1, sum, 1e-9)
		}
		// one entry per valid sentence per channel
		valid := 0
		for _, m := range ds.Docs[b].Mask {
			if m > 0 {
				valid++
			}
		}
		assert.Len(t, p.Sentences, valid*model.Channels())
		for _, s := range p.Sentences {
			assert.Equal(t, ev.Scores[b][s.Channel*cfg.MaxSentences+s.Sentence], s.Score)
		}
	}
	assert.Nil(t, Predict(model, nil))
}

func TestEvaluateIndependentOfWorkers(t *testing.T) {
	rng := rand.New(rand.NewPCG(8, 8))
	cfg := smallConfig()
	model, err := NewModel(cfg, nil, rng)
	require.NoError(t, err)
	ds := randomDataset(rng, cfg, 11)

	one := Evaluate(model, ds, 3, 1)
	many := Evaluate(model, ds, 3, 8)
	assert.Equal(t, one.Predictions, many.Predictions)
	assert.Equal(t, one.Scores, many.Scores)
	assert.InDelta(t, one.Cost, many.Cost, 1e-12)
	assert.Equal(t, one.Metrics, many.Metrics)
	assert.Equal(t, one.Metrics[1].Accuracy, one.Monitor("type"))
	assert.Equal(t, one.Metrics[0].Accuracy, one.Monitor(""))
}

func TestTopSentences(t *testing.T) {
	p := Prediction{Sentences: []SentenceScore{
		{Channel: 0, Sentence: 0, Score: 0.2},
		{Channel: 0, Sentence: 1, Score: 0.7},
		{Channel: 0, Sentence: 2, Score: 0.4},
		{Channel: 1, Sentence: 0, Score: 0.9, Selected: true},
		{Channel: 1, Sentence: 1, Score: 0.1},
		{Channel: 1, Sentence: 2, Score: 0.7},
	}}

	top := p.TopSentences(2)
	require.Len(t, top, 2)
	assert.Equal(t, SentenceScore{Channel: 1, Sentence: 0, Score: 0.9, Selected: true}, top[0])
	assert.Equal(t, 1, top[1].Sentence, "ties go to the earlier sentence")

	assert.Len(t, p.TopSentences(10), 3)
	assert.Empty(t, Prediction{}.TopSentences(3))
}
