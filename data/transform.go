package data

import (
	"encoding/json"
	"strings"

	"github.com/b0tShaman/docgate/ml"
	"github.com/pkg/errors"
)

// MaxFreqID caps the in-document frequency feature.
const MaxFreqID = 20

// SplitOptions fix the document tensor layout.
type SplitOptions struct {
	DataType     string // "str": raw text split on delimiters; "json": array of sentences
	MaxSentences int
	MaxWords     int
	Padding      int // pad ids added on both sides of every sentence
}

// SentenceLen is the padded width of every sentence row.
func (o SplitOptions) SentenceLen() int {
	return o.MaxWords + 2*o.Padding
}

func splitDoc(doc, dataType string) ([]string, error) {
	switch dataType {
	case "", "str":
		return SplitSentences(doc), nil
	case "json":
		var sens []string
		if err := json.Unmarshal([]byte(doc), &sens); err != nil {
			return nil, errors.Wrap(err, "decoding json document")
		}
		for i := range sens {
			sens[i] = strings.ToLower(sens[i])
		}
		return sens, nil
	default:
		return nil, errors.Errorf("unknown data type %q", dataType)
	}
}

// SplitDoc2Sen turns one raw document into a MaxSentences x SentenceLen
// tensor of word ids plus the matching frequency and position ids and the
// sentence mask. Sentences past MaxSentences and words past MaxWords are
// dropped.
func SplitDoc2Sen(doc string, vocab *Vocab, opts SplitOptions) (*ml.Document, error) {
	sens, err := splitDoc(doc, opts.DataType)
	if err != nil {
		return nil, err
	}
	if len(sens) > opts.MaxSentences {
		sens = sens[:opts.MaxSentences]
	}
	width := opts.SentenceLen()

	d := &ml.Document{
		Words:     make([][]int, opts.MaxSentences),
		Freqs:     make([][]int, opts.MaxSentences),
		Positions: make([][]int, opts.MaxSentences),
		Mask:      make([]float64, opts.MaxSentences),
	}
	for j := range d.Words {
		d.Words[j] = make([]int, width)
		d.Positions[j] = make([]int, width)
	}

	for j, sen := range sens {
		tokens := Tokenize(sen)
		if len(tokens) > opts.MaxWords {
			tokens = tokens[:opts.MaxWords]
		}
		for t, w := range tokens {
			d.Words[j][opts.Padding+t] = vocab.ID(w)
		}
		for t := range d.Positions[j] {
			d.Positions[j][t] = j + 1
		}
		d.Mask[j] = 1
	}

	// word counts over the whole document, pad excluded
	counts := make(map[int]int)
	for _, row := range d.Words {
		for _, id := range row {
			counts[id]++
		}
	}
	for j, row := range d.Words {
		d.Freqs[j] = make([]int, width)
		for t, id := range row {
			if id != ml.PadID {
				d.Freqs[j][t] = min(counts[id], MaxFreqID)
			}
		}
	}
	return d, nil
}

// TransformDataset converts raw documents and their per-head label ids into
// a dataset.
func TransformDataset(docs []string, labels [][]int, vocab *Vocab, opts SplitOptions) (*ml.Dataset, error) {
	ds := &ml.Dataset{Docs: make([]*ml.Document, len(docs))}
	for i, raw := range docs {
		d, err := SplitDoc2Sen(raw, vocab, opts)
		if err != nil {
			return nil, errors.Wrapf(err, "document %d", i)
		}
		d.Labels = make([]int, len(labels))
		for h := range labels {
			d.Labels[h] = labels[h][i]
		}
		ds.Docs[i] = d
	}
	return ds, nil
}
