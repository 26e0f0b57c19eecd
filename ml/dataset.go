package ml

import (
	"math/rand/v2"

	"github.com/pkg/errors"
)

// Document is one training example: MaxSentences rows of SentenceLen ids.
// Mask[s] is 1 for a real sentence and 0 for a padding slot. Freqs and
// Positions are only read when the model uses symbolic features.
type Document struct {
	Words     [][]int
	Freqs     [][]int
	Positions [][]int
	Mask      []float64
	Labels    []int // one label per head
}

type Dataset struct {
	Docs []*Document
}

// Batch is a view over a contiguous run of documents.
type Batch struct {
	Docs []*Document
}

func (d *Dataset) Len() int { return len(d.Docs) }

// NumBatches counts minibatches of size, the last one possibly partial.
func (d *Dataset) NumBatches(size int) int {
	return (len(d.Docs) + size - 1) / size
}

// Batch returns minibatch i of the given size.
func (d *Dataset) Batch(i, size int) *Batch {
	start := i * size
	end := min(start+size, len(d.Docs))
	return &Batch{Docs: d.Docs[start:end]}
}

// Labels returns the label column of every head.
func (b *Batch) Labels(heads int) [][]int {
	labels := make([][]int, heads)
	for h := range labels {
		labels[h] = make([]int, len(b.Docs))
		for i, doc := range b.Docs {
			labels[h][i] = doc.Labels[h]
		}
	}
	return labels
}

// Validate checks every document against the model topology.
func (d *Dataset) Validate(cfg ModelConfig) error {
	for n, doc := range d.Docs {
		if len(doc.Words) != cfg.MaxSentences || len(doc.Mask) != cfg.MaxSentences {
			return errors.Wrapf(ErrShapeMismatch, "document %d: %d sentences, %d mask entries, want %d",
				n, len(doc.Words), len(doc.Mask), cfg.MaxSentences)
		}
		for s, m := range doc.Mask {
			if m != 0 && m != 1 {
				return errors.Wrapf(ErrShapeMismatch, "document %d sentence %d: mask %v is neither 0 nor 1", n, s, m)
			}
		}
		if len(doc.Labels) != len(cfg.Heads) {
			return errors.Wrapf(ErrShapeMismatch, "document %d: %d labels for %d heads", n, len(doc.Labels), len(cfg.Heads))
		}
		for h, y := range doc.Labels {
			if y < 0 || y >= cfg.Heads[h].Classes {
				return errors.Wrapf(ErrUnknownLabel, "document %d head %s: label %d", n, cfg.Heads[h].Name, y)
			}
		}
		if cfg.SymDim > 0 && (len(doc.Freqs) != cfg.MaxSentences || len(doc.Positions) != cfg.MaxSentences) {
			return errors.Wrapf(ErrShapeMismatch, "document %d: missing frequency or position ids", n)
		}
		for s, words := range doc.Words {
			if len(words) != cfg.SentenceLen {
				return errors.Wrapf(ErrShapeMismatch, "document %d sentence %d: %d words, want %d", n, s, len(words), cfg.SentenceLen)
			}
			if err := checkIDs(words, cfg.VocabSize); err != nil {
				return errors.Wrapf(err, "document %d sentence %d words", n, s)
			}
			if cfg.SymDim == 0 {
				continue
			}
			if len(doc.Freqs[s]) != cfg.SentenceLen || len(doc.Positions[s]) != cfg.SentenceLen {
				return errors.Wrapf(ErrShapeMismatch, "document %d sentence %d: feature rows do not match words", n, s)
			}
			if err := checkIDs(doc.Freqs[s], cfg.FreqVocab); err != nil {
				return errors.Wrapf(err, "document %d sentence %d freqs", n, s)
			}
			if err := checkIDs(doc.Positions[s], cfg.PositionVocab); err != nil {
				return errors.Wrapf(err, "document %d sentence %d positions", n, s)
			}
		}
	}
	return nil
}

func checkIDs(ids []int, vocab int) error {
	for _, id := range ids {
		if id < 0 || id >= vocab {
			return errors.Wrapf(ErrShapeMismatch, "id %d outside vocabulary of %d", id, vocab)
		}
	}
	return nil
}

// ------ DATA HANDLING HELPERS ------
func NewIndexList(size int) []int {
	indices := make([]int, size)
	for i := range indices {
		indices[i] = i
	}
	return indices
}

func ShuffleIndices(rng *rand.Rand, indices []int) {
	rng.Shuffle(len(indices), func(i, j int) {
		indices[i], indices[j] = indices[j], indices[i]
	})
}
