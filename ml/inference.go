package ml

import (
	"sort"
)

// SentenceScore is the gate output for one sentence of one channel.
type SentenceScore struct {
	Channel  int
	Sentence int
	Score    float64
	Selected bool
}

// Prediction is the clean-graph output for a single document.
type Prediction struct {
	Labels    []int       // argmax class per head
	Probs     [][]float64 // class distribution per head
	Sentences []SentenceScore
}

// Predict classifies docs with the inference graph. Documents need no labels.
func Predict(model *Model, docs []*Document) []Prediction {
	if len(docs) == 0 {
		return nil
	}
	pass := model.Forward(&Batch{Docs: docs}, false, nil)
	preds := pass.Predictions()

	out := make([]Prediction, len(docs))
	for b := range docs {
		p := Prediction{
			Labels: make([]int, len(pass.Probs)),
			Probs:  make([][]float64, len(pass.Probs)),
		}
		for h, probs := range pass.Probs {
			p.Labels[h] = preds[h][b]
			p.Probs[h] = append([]float64(nil), probs.Row(b)...)
		}
		for c, g := range pass.gates {
			for s := 0; s < pass.Sentences; s++ {
				i := b*pass.Sentences + s
				if pass.mask[i] == 0 {
					continue
				}
				p.Sentences = append(p.Sentences, SentenceScore{
					Channel:  c,
					Sentence: s,
					Score:    g.score[i],
					Selected: g.selected[i],
				})
			}
		}
		out[b] = p
	}
	return out
}

// TopSentences ranks sentences by their best score over all channels and
// returns at most n of them, ties going to the earlier sentence.
func (p Prediction) TopSentences(n int) []SentenceScore {
	best := map[int]SentenceScore{}
	for _, s := range p.Sentences {
		if cur, ok := best[s.Sentence]; !ok || s.Score > cur.Score {
			best[s.Sentence] = s
		}
	}
	ranked := make([]SentenceScore, 0, len(best))
	for _, s := range best {
		ranked = append(ranked, s)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Sentence < ranked[j].Sentence
	})
	if n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}
