package ml

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

const (
	// GatePerFilter gives every filter width its own gate channel.
	GatePerFilter = "per_filter"
	// GateConcat gates the concatenation of all filter outputs as one channel.
	GateConcat = "concat"
)

// ModelConfig is the topology of a Model. It is persisted with checkpoints.
type ModelConfig struct {
	VocabSize     int `json:"vocab_size"`
	WordDim       int `json:"word_dim"`
	SymDim        int `json:"sym_dim"` // 0 disables frequency/position features
	FreqVocab     int `json:"freq_vocab"`
	PositionVocab int `json:"position_vocab"`

	MaxSentences int `json:"max_sentences"`
	SentenceLen  int `json:"sentence_len"`

	FilterWidths []int   `json:"filter_hs"`
	Maps         int     `json:"num_maps"`
	Activation   string  `json:"activation"`
	WordDropout  float64 `json:"word_dropout"`

	GateMode string `json:"gate_mode"`
	TopK     int    `json:"top_k"`

	HiddenUnits      []int        `json:"hidden_units"`
	HiddenActivation string       `json:"hidden_activation"`
	Dropout          []float64    `json:"dropout_rates"`
	Heads            []HeadConfig `json:"heads"`

	Static bool `json:"static"`
}

// Depth is the per-word feature width fed to the encoders.
func (c ModelConfig) Depth() int {
	if c.SymDim > 0 {
		return c.WordDim + 2*c.SymDim
	}
	return c.WordDim
}

// Model is the full sentence-gated document classifier.
type Model struct {
	Config ModelConfig

	Words     *Embedding
	Freqs     *Embedding // nil without symbolic features
	Positions *Embedding // nil without symbolic features

	Encoders   []*ConvEncoder
	Gates      []*Gate
	Classifier *Classifier

	channels [][]int // filter indices feeding each gate
	act      ActivationType
}

// NewModel builds a model. words may carry pretrained vectors
// (VocabSize x WordDim); when nil the table is randomly initialised.
func NewModel(cfg ModelConfig, words *Matrix, rng *rand.Rand) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	act, _ := ParseActivation(cfg.Activation)
	hiddenAct, _ := ParseActivation(cfg.HiddenActivation)

	m := &Model{Config: cfg, act: act}
	if words != nil {
		if words.rows != cfg.VocabSize || words.cols != cfg.WordDim {
			return nil, errors.Wrapf(ErrShapeMismatch, "word vectors %dx%d, config %dx%d",
				words.rows, words.cols, cfg.VocabSize, cfg.WordDim)
		}
		m.Words = NewEmbeddingFromMatrix("embedding", words)
	} else {
		m.Words = NewEmbedding("embedding", cfg.VocabSize, cfg.WordDim, rng)
	}
	m.Words.Table.Frozen = cfg.Static

	if cfg.SymDim > 0 {
		m.Freqs = NewEmbedding("freqs", cfg.FreqVocab, cfg.SymDim, rng)
		m.Positions = NewEmbedding("poss", cfg.PositionVocab, cfg.SymDim, rng)
	}

	for i, h := range cfg.FilterWidths {
		m.Encoders = append(m.Encoders, NewConvEncoder(fmt.Sprintf("conv%d", i), h, cfg.Depth(), cfg.Maps, act, rng))
	}

	switch cfg.GateMode {
	case GateConcat:
		all := make([]int, len(cfg.FilterWidths))
		for i := range all {
			all[i] = i
		}
		m.channels = [][]int{all}
	default:
		for i := range cfg.FilterWidths {
			m.channels = append(m.channels, []int{i})
		}
	}
	docDim := 0
	for c, filters := range m.channels {
		features := len(filters) * cfg.Maps
		m.Gates = append(m.Gates, NewGate(fmt.Sprintf("gate%d", c), features, cfg.TopK, rng))
		docDim += features
	}

	m.Classifier = NewClassifier(docDim, cfg.HiddenUnits, cfg.Heads, hiddenAct, cfg.Dropout, rng)
	return m, nil
}

// Params lists every trainable parameter in a stable order.
func (m *Model) Params() []*Param {
	params := []*Param{m.Words.Table}
	if m.Freqs != nil {
		params = append(params, m.Freqs.Table, m.Positions.Table)
	}
	for _, e := range m.Encoders {
		params = append(params, e.Params()...)
	}
	for _, g := range m.Gates {
		params = append(params, g.Theta)
	}
	return append(params, m.Classifier.Params()...)
}

// Embeddings lists every embedding-like table.
func (m *Model) Embeddings() []*Embedding {
	if m.Freqs == nil {
		return []*Embedding{m.Words}
	}
	return []*Embedding{m.Words, m.Freqs, m.Positions}
}

func (m *Model) Channels() int { return len(m.channels) }

func (m *Model) ZeroGrads() {
	for _, p := range m.Params() {
		p.ZeroGrad()
	}
}

// ZeroPadRows pins the pad row of every embedding table to zero.
func (m *Model) ZeroPadRows() {
	for _, e := range m.Embeddings() {
		e.ZeroPad()
	}
}

// NonFiniteGrad returns the first parameter whose gradient holds NaN or Inf.
func (m *Model) NonFiniteGrad() *Param {
	for _, p := range m.Params() {
		if !p.Grad.IsFinite() {
			return p
		}
	}
	return nil
}

// ------- FORWARD ------- //

// Pass holds every intermediate of one forward pass over a batch. The model
// itself is never written during Forward, so passes can run concurrently.
type Pass struct {
	Docs, Sentences int
	Train           bool

	docs      []*Document
	mask      []float64
	inputs    []*Matrix // per sentence, nil for padding slots
	dropMasks []*Matrix

	encOut   []*Matrix     // per filter: (docs*sentences) x maps
	encCache [][]convCache // [filter][sentence]

	chanIn []*Matrix
	gates  []*gateCache

	DocVec *Matrix
	cls    *classifierCache
	Probs  []*Matrix // per head: docs x classes
}

// Forward runs the training graph (train=true, dropout drawn from rng) or
// the clean inference graph.
func (m *Model) Forward(batch *Batch, train bool, rng *rand.Rand) *Pass {
	cfg := m.Config
	docs, sentences := len(batch.Docs), cfg.MaxSentences
	n := docs * sentences
	depth := cfg.Depth()

	p := &Pass{
		Docs:      docs,
		Sentences: sentences,
		Train:     train,
		docs:      batch.Docs,
		mask:      make([]float64, n),
		inputs:    make([]*Matrix, n),
		encOut:    make([]*Matrix, len(m.Encoders)),
		encCache:  make([][]convCache, len(m.Encoders)),
	}
	if train && cfg.WordDropout > 0 {
		p.dropMasks = make([]*Matrix, n)
	}
	for f, enc := range m.Encoders {
		p.encOut[f] = NewMatrix(n, enc.Maps)
		p.encCache[f] = make([]convCache, n)
	}

	for b, doc := range batch.Docs {
		for s := 0; s < sentences; s++ {
			i := b*sentences + s
			p.mask[i] = doc.Mask[s]
			if p.mask[i] == 0 {
				continue
			}
			x := m.embedSentence(doc, s, depth)
			if cfg.WordDropout > 0 {
				if train {
					keep := NewMatrix(x.rows, x.cols)
					for k := range keep.data {
						if rng.Float64() >= cfg.WordDropout {
							keep.data[k] = 1
						}
					}
					x.dense.MulElem(x.dense, keep.dense)
					p.dropMasks[i] = keep
				} else {
					x.Scale(1 - cfg.WordDropout)
				}
			}
			p.inputs[i] = x
			for f, enc := range m.Encoders {
				p.encCache[f][i] = enc.Forward(x, p.encOut[f].Row(i))
			}
		}
	}

	p.chanIn = make([]*Matrix, len(m.channels))
	p.gates = make([]*gateCache, len(m.channels))
	parts := make([]*Matrix, len(m.channels))
	for c, filters := range m.channels {
		p.chanIn[c] = m.channelInput(p.encOut, filters, n)
		parts[c], p.gates[c] = m.Gates[c].Forward(p.chanIn[c], p.mask, docs, sentences)
	}
	p.DocVec = concatCols(parts)
	p.Probs, p.cls = m.Classifier.Forward(p.DocVec, train, rng)
	return p
}

func (m *Model) embedSentence(doc *Document, s, depth int) *Matrix {
	cfg := m.Config
	x := NewMatrix(cfg.SentenceLen, depth)
	for t, id := range doc.Words[s] {
		row := x.Row(t)
		m.Words.Lookup(id, row[:cfg.WordDim])
		if m.Freqs != nil {
			m.Freqs.Lookup(doc.Freqs[s][t], row[cfg.WordDim:cfg.WordDim+cfg.SymDim])
			m.Positions.Lookup(doc.Positions[s][t], row[cfg.WordDim+cfg.SymDim:])
		}
	}
	return x
}

func (m *Model) channelInput(encOut []*Matrix, filters []int, n int) *Matrix {
	if len(filters) == 1 {
		return encOut[filters[0]]
	}
	parts := make([]*Matrix, len(filters))
	for i, f := range filters {
		parts[i] = encOut[f]
	}
	return concatCols(parts)
}

// Scores returns the masked gate scores as docs x (channels*sentences), the
// layout of the interpretability dump.
func (p *Pass) Scores() *Matrix {
	out := NewMatrix(p.Docs, len(p.gates)*p.Sentences)
	for c, g := range p.gates {
		for b := 0; b < p.Docs; b++ {
			copy(out.Row(b)[c*p.Sentences:(c+1)*p.Sentences], g.score[b*p.Sentences:(b+1)*p.Sentences])
		}
	}
	return out
}

// Weights returns the post-selection weights (selected * score) laid out
// like Scores.
func (p *Pass) Weights() *Matrix {
	out := NewMatrix(p.Docs, len(p.gates)*p.Sentences)
	for c, g := range p.gates {
		for b := 0; b < p.Docs; b++ {
			copy(out.Row(b)[c*p.Sentences:(c+1)*p.Sentences], g.weight[b*p.Sentences:(b+1)*p.Sentences])
		}
	}
	return out
}

// Predictions returns the argmax class per head per document.
func (p *Pass) Predictions() [][]int {
	preds := make([][]int, len(p.Probs))
	for h, probs := range p.Probs {
		preds[h] = make([]int, probs.rows)
		for b := 0; b < probs.rows; b++ {
			preds[h][b] = floats.MaxIdx(probs.Row(b))
		}
	}
	return preds
}

// ------- LOSS & BACKWARD ------- //

// Objective weights the auxiliary terms of the training loss.
type Objective struct {
	ScorePenalty float64
	L1, L2       float64
}

// Loss breaks a training cost into its components.
type Loss struct {
	Heads          []float64 // unweighted mean NLL per head
	Penalty        float64   // score penalty, already scaled
	Regularization float64
	Total          float64
}

func (m *Model) scorePenalty(p *Pass) float64 {
	sum := 0.0
	for _, g := range p.gates {
		sum += floats.Sum(g.score)
	}
	return sum / float64(p.Docs*len(p.gates))
}

// Loss evaluates the objective of a pass without touching gradients.
func (m *Model) Loss(p *Pass, labels [][]int, obj Objective) Loss {
	l := Loss{Heads: make([]float64, len(p.Probs))}
	for h, probs := range p.Probs {
		l.Heads[h] = NLL(probs, labels[h])
		l.Total += m.Classifier.Heads[h].Weight * l.Heads[h]
	}
	if obj.ScorePenalty != 0 {
		l.Penalty = obj.ScorePenalty * m.scorePenalty(p)
	}
	if obj.L1 != 0 || obj.L2 != 0 {
		l.Regularization = m.Classifier.RegularizationCost(obj.L1, obj.L2)
	}
	l.Total += l.Penalty + l.Regularization
	return l
}

// Backward computes the loss of p and accumulates every parameter gradient.
// Gradients are added to whatever is already in Param.Grad.
func (m *Model) Backward(p *Pass, labels [][]int, obj Objective) Loss {
	loss := m.Loss(p, labels, obj)
	m.Classifier.Regularize(obj.L1, obj.L2)

	dDoc := m.Classifier.Backward(p.cls, labels)

	cfg := m.Config
	n := p.Docs * p.Sentences
	dEnc := make([]*Matrix, len(m.Encoders))
	for f, enc := range m.Encoders {
		dEnc[f] = NewMatrix(n, enc.Maps)
	}

	penalty := obj.ScorePenalty / float64(p.Docs*len(p.gates))
	col := 0
	for c, filters := range m.channels {
		gate := m.Gates[c]
		dPart := sliceCols(dDoc, col, gate.Features())
		col += gate.Features()

		dIn := gate.Backward(p.chanIn[c], p.mask, p.gates[c], dPart, penalty)
		off := 0
		for _, f := range filters {
			maps := m.Encoders[f].Maps
			for i := 0; i < n; i++ {
				floats.Add(dEnc[f].Row(i), dIn.Row(i)[off:off+maps])
			}
			off += maps
		}
	}

	needInput := !m.Words.Table.Frozen || m.Freqs != nil
	for i := 0; i < n; i++ {
		x := p.inputs[i]
		if x == nil {
			continue
		}
		var dx *Matrix
		if needInput {
			dx = NewMatrix(x.rows, x.cols)
		}
		for f, enc := range m.Encoders {
			enc.Backward(x, p.encCache[f][i], dEnc[f].Row(i), dx)
		}
		if dx == nil {
			continue
		}
		if p.dropMasks != nil {
			dx.dense.MulElem(dx.dense, p.dropMasks[i].dense)
		}

		b, s := i/p.Sentences, i%p.Sentences
		m.backwardEmbeddings(p, b, s, dx, cfg)
	}
	return loss
}

func (m *Model) backwardEmbeddings(p *Pass, b, s int, dx *Matrix, cfg ModelConfig) {
	doc := p.docs[b]
	for t, id := range doc.Words[s] {
		row := dx.Row(t)
		m.Words.Backward(id, row[:cfg.WordDim])
		if m.Freqs != nil {
			m.Freqs.Backward(doc.Freqs[s][t], row[cfg.WordDim:cfg.WordDim+cfg.SymDim])
			m.Positions.Backward(doc.Positions[s][t], row[cfg.WordDim+cfg.SymDim:])
		}
	}
}

// ------- HELPERS ------- //

func concatCols(parts []*Matrix) *Matrix {
	if len(parts) == 1 {
		return parts[0]
	}
	rows, cols := parts[0].rows, 0
	for _, p := range parts {
		cols += p.cols
	}
	out := NewMatrix(rows, cols)
	for r := 0; r < rows; r++ {
		dst := out.Row(r)
		off := 0
		for _, p := range parts {
			copy(dst[off:off+p.cols], p.Row(r))
			off += p.cols
		}
	}
	return out
}

func sliceCols(m *Matrix, start, width int) *Matrix {
	if start == 0 && width == m.cols {
		return m
	}
	out := NewMatrix(m.rows, width)
	for r := 0; r < m.rows; r++ {
		copy(out.Row(r), m.Row(r)[start:start+width])
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
