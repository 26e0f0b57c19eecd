package ml

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// Reserved ids shared by every embedding table.
const (
	PadID     = 0
	UnknownID = 1
)

// Embedding is a lookup table whose row PadIndex is pinned to zero.
type Embedding struct {
	Table *Param
}

// NewEmbedding allocates a vocab x dim table initialised from U(-0.25, 0.25)
// with a zero pad row.
func NewEmbedding(name string, vocab, dim int, rng *rand.Rand) *Embedding {
	p := NewParam(name, vocab, dim)
	p.Embedding = true
	p.PadIndex = PadID
	p.Value.RandomizeUniform(rng, 0.25)
	e := &Embedding{Table: p}
	e.ZeroPad()
	return e
}

// NewEmbeddingFromMatrix wraps pretrained vectors. The matrix is used in place.
func NewEmbeddingFromMatrix(name string, vectors *Matrix) *Embedding {
	p := &Param{
		Name:      name,
		Shape:     []int{vectors.rows, vectors.cols},
		Value:     vectors,
		Grad:      NewMatrix(vectors.rows, vectors.cols),
		Embedding: true,
		PadIndex:  PadID,
	}
	e := &Embedding{Table: p}
	e.ZeroPad()
	return e
}

func (e *Embedding) Vocab() int { return e.Table.Value.rows }
func (e *Embedding) Dim() int   { return e.Table.Value.cols }

// Lookup copies the vector for id into dst.
func (e *Embedding) Lookup(id int, dst []float64) {
	if id < 0 || id >= e.Vocab() {
		panic(fmt.Sprintf("%s: id %d out of bounds (vocab %d)", e.Table.Name, id, e.Vocab()))
	}
	copy(dst, e.Table.Value.Row(id))
}

// Backward accumulates grad into the gradient row of id. Frozen tables and
// the pad row receive nothing.
func (e *Embedding) Backward(id int, grad []float64) {
	if e.Table.Frozen || id == e.Table.PadIndex {
		return
	}
	floats.Add(e.Table.Grad.Row(id), grad)
}

// ZeroPad resets the pad row to the zero vector.
func (e *Embedding) ZeroPad() {
	row := e.Table.Value.Row(e.Table.PadIndex)
	for i := range row {
		row[i] = 0
	}
}
