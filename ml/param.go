package ml

import "fmt"

// Param is a trainable tensor. Value and Grad always share the same storage
// layout; Shape is the logical shape used for persistence and for deciding
// whether column clipping applies.
type Param struct {
	Name  string
	Shape []int
	Value *Matrix
	Grad  *Matrix

	// Embedding tables keep PadIndex pinned to the zero vector and are exempt
	// from column clipping.
	Embedding bool
	PadIndex  int

	// Frozen params receive no updates (static word vectors).
	Frozen bool
}

// NewParam allocates a rows x cols parameter. When shape is omitted the
// logical shape is [rows, cols].
func NewParam(name string, rows, cols int, shape ...int) *Param {
	if len(shape) == 0 {
		shape = []int{rows, cols}
	}
	size := 1
	for _, d := range shape {
		size *= d
	}
	if size != rows*cols {
		panic(fmt.Sprintf("param %s: shape %v does not cover %dx%d storage", name, shape, rows, cols))
	}
	return &Param{
		Name:  name,
		Shape: shape,
		Value: NewMatrix(rows, cols),
		Grad:  NewMatrix(rows, cols),
	}
}

func (p *Param) ZeroGrad() {
	p.Grad.Reset()
}

// ColumnClipped reports whether the optimizer constrains column norms of p.
func (p *Param) ColumnClipped() bool {
	return len(p.Shape) == 2 && !p.Embedding
}

func (p *Param) String() string {
	return fmt.Sprintf("%s%v", p.Name, p.Shape)
}
