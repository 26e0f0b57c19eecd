package ml

import (
	"bytes"
	"encoding/gob"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Matrix represents a dense matrix with a flat data slice for performance.
type Matrix struct {
	rows, cols int
	data       []float64
	dense      *mat.Dense
}

// -------- CONSTRUCTORS ------- //
func NewMatrix(rows, cols int) *Matrix {
	data := make([]float64, rows*cols)
	return &Matrix{
		rows:  rows,
		cols:  cols,
		data:  data,
		dense: mat.NewDense(rows, cols, data),
	}
}

func NewMatrixFromSlice(rows, cols int, data []float64) *Matrix {
	if len(data) != rows*cols {
		panic("Slice length mismatch")
	}

	return &Matrix{
		rows:  rows,
		cols:  cols,
		data:  data,
		dense: mat.NewDense(rows, cols, data),
	}
}

// ------- MATRIX METHODS ------ //
func (m *Matrix) GobEncode() ([]byte, error) {
	w := new(bytes.Buffer)
	encoder := gob.NewEncoder(w)
	if err := encoder.Encode(m.rows); err != nil {
		return nil, err
	}
	if err := encoder.Encode(m.cols); err != nil {
		return nil, err
	}
	if err := encoder.Encode(m.data); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

func (m *Matrix) GobDecode(buf []byte) error {
	r := bytes.NewBuffer(buf)
	decoder := gob.NewDecoder(r)
	if err := decoder.Decode(&m.rows); err != nil {
		return err
	}
	if err := decoder.Decode(&m.cols); err != nil {
		return err
	}
	if err := decoder.Decode(&m.data); err != nil {
		return err
	}
	// gob leaves an empty slice nil
	if m.data == nil {
		m.data = make([]float64, m.rows*m.cols)
	}

	// Re-create the wrapper after loading data
	m.dense = mat.NewDense(m.rows, m.cols, m.data)

	return nil
}

func (m *Matrix) Rows() int       { return m.rows }
func (m *Matrix) Cols() int       { return m.cols }
func (m *Matrix) Data() []float64 { return m.data }

func (m *Matrix) At(i, j int) float64 {
	return m.data[i*m.cols+j]
}

func (m *Matrix) Set(i, j int, v float64) {
	m.data[i*m.cols+j] = v
}

// Row returns row i as a slice aliasing the matrix storage.
func (m *Matrix) Row(i int) []float64 {
	return m.data[i*m.cols : (i+1)*m.cols]
}

func (m *Matrix) Clone() *Matrix {
	out := NewMatrix(m.rows, m.cols)
	copy(out.data, m.data)
	return out
}

// RandomizeNormal fills the matrix with N(0, scale²) samples.
func (m *Matrix) RandomizeNormal(rng *rand.Rand, scale float64) {
	for i := range m.data {
		m.data[i] = rng.NormFloat64() * scale
	}
}

// RandomizeUniform fills the matrix with samples from U(-limit, limit).
func (m *Matrix) RandomizeUniform(rng *rand.Rand, limit float64) {
	for i := range m.data {
		m.data[i] = (rng.Float64()*2 - 1) * limit
	}
}

// RandomizeXavier uses limit = sqrt(6 / (fanIn + fanOut)).
func (m *Matrix) RandomizeXavier(rng *rand.Rand, fanIn, fanOut int) {
	m.RandomizeUniform(rng, math.Sqrt(6.0/float64(fanIn+fanOut)))
}

func (m *Matrix) Reset() {
	for i := range m.data {
		m.data[i] = 0.0
	}
}

func (m *Matrix) Add(b *Matrix) {
	m.dense.Add(m.dense, b.dense)
}

func (m *Matrix) Scale(s float64) {
	floats.Scale(s, m.data)
}

func (m *Matrix) AddVector(v *Matrix) {
	for i := 0; i < m.rows; i++ {
		floats.Add(m.data[i*m.cols:(i+1)*m.cols], v.data)
	}
}

func (m *Matrix) ApplyFunc(fn func(float64) float64) {
	for i := range m.data {
		m.data[i] = fn(m.data[i])
	}
}

// IsFinite reports whether every element is neither NaN nor ±Inf.
func (m *Matrix) IsFinite() bool {
	for _, v := range m.data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// ColNorms returns the L2 norm of every column.
func (m *Matrix) ColNorms() []float64 {
	norms := make([]float64, m.cols)
	for i := 0; i < m.rows; i++ {
		row := m.data[i*m.cols : (i+1)*m.cols]
		for j, v := range row {
			norms[j] += v * v
		}
	}
	for j := range norms {
		norms[j] = math.Sqrt(norms[j])
	}
	return norms
}

// ------ UTILITY FUNCTIONS ------
func MatMul(a, b mat.Matrix, out *Matrix) {
	out.dense.Mul(a, b)
}

// SumRows adds every row of m into dst.
func SumRows(m *Matrix, dst []float64) {
	for i := 0; i < m.rows; i++ {
		floats.Add(dst, m.data[i*m.cols:(i+1)*m.cols])
	}
}
