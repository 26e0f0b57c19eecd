package data

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/b0tShaman/docgate/ml"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

const predictCacheSize = 256

// InferenceConfig holds what the interactive classifier needs besides the model.
type InferenceConfig struct {
	Vocab        *Vocab
	Split        SplitOptions
	Tasks        []*ClassDict
	TopSentences int // evidence sentences printed per document
}

// ClassifyText reads one document per line from r until EOF or "exit", and
// writes the predicted class of every head followed by the highest scoring
// sentences.
func ClassifyText(r io.Reader, w io.Writer, model *ml.Model, cfg InferenceConfig) error {
	tc, err := NewTextClassifier(model, cfg)
	if err != nil {
		return err
	}
	reader := bufio.NewReader(r)

	// Interactive Loop
	for {
		fmt.Fprint(w, "\nInput: ")
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return errors.Wrap(err, "reading input")
		}
		doc := strings.TrimSpace(line)

		if doc == "exit" || doc == "quit" {
			return nil
		}
		if doc != "" {
			if perr := tc.write(w, doc); perr != nil {
				fmt.Fprintf(w, "error: %v\n", perr)
			}
		}
		if err == io.EOF {
			return nil
		}
	}
}

// TextClassifier classifies raw documents, remembering recent results.
type TextClassifier struct {
	model *ml.Model
	cfg   InferenceConfig
	cache *lru.Cache
}

type classified struct {
	pred      ml.Prediction
	sentences []string
}

// NewTextClassifier fails when cfg.Tasks does not match the heads of model.
// Without tasks, heads are reported by index.
func NewTextClassifier(model *ml.Model, cfg InferenceConfig) (*TextClassifier, error) {
	if len(cfg.Tasks) > 0 {
		if err := MatchHeads(cfg.Tasks, model.Config.Heads); err != nil {
			return nil, err
		}
	}
	cache, err := lru.New(predictCacheSize)
	if err != nil {
		return nil, err
	}
	return &TextClassifier{model: model, cfg: cfg, cache: cache}, nil
}

// Classify returns the prediction for doc along with its split sentences,
// indexed like Prediction.Sentences.
func (c *TextClassifier) Classify(doc string) (ml.Prediction, []string, error) {
	if v, ok := c.cache.Get(doc); ok {
		res := v.(classified)
		return res.pred, res.sentences, nil
	}
	sens, err := splitDoc(doc, c.cfg.Split.DataType)
	if err != nil {
		return ml.Prediction{}, nil, err
	}
	d, err := SplitDoc2Sen(doc, c.cfg.Vocab, c.cfg.Split)
	if err != nil {
		return ml.Prediction{}, nil, err
	}
	pred := ml.Predict(c.model, []*ml.Document{d})[0]
	c.cache.Add(doc, classified{pred: pred, sentences: sens})
	return pred, sens, nil
}

func (c *TextClassifier) write(w io.Writer, doc string) error {
	pred, sens, err := c.Classify(doc)
	if err != nil {
		return err
	}

	for h, label := range pred.Labels {
		name := fmt.Sprintf("head%d", h)
		class := fmt.Sprint(label)
		if len(c.cfg.Tasks) > 0 {
			name, class = c.cfg.Tasks[h].Name, c.cfg.Tasks[h].Classes[label]
		}
		fmt.Fprintf(w, "%s: %s (p=%.3f)\n", name, class, pred.Probs[h][label])
	}
	for _, s := range pred.TopSentences(c.cfg.TopSentences) {
		if s.Sentence >= len(sens) {
			continue
		}
		fmt.Fprintf(w, "  [%.3f] %s\n", s.Score, strings.TrimSpace(sens[s.Sentence]))
	}
	return nil
}
