package ml

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

const (
	ActLinear ActivationType = iota
	ActRelu
	ActSigmoid
	ActTanh
	ActSoftmax
)

var activationMap = map[string]ActivationType{
	"linear":  ActLinear,
	"sigmoid": ActSigmoid,
	"relu":    ActRelu,
	"tanh":    ActTanh,
	"softmax": ActSoftmax,
}

// -------- TYPE DEFINITIONS -------- //
type ActivationType int

// ParseActivation maps a config name to an ActivationType.
func ParseActivation(name string) (ActivationType, bool) {
	act, ok := activationMap[name]
	return act, ok
}

func (a ActivationType) String() string {
	for name, act := range activationMap {
		if act == a {
			return name
		}
	}
	return "unknown"
}

// Activate applies an element-wise activation. Softmax is row-wise and is
// handled by SoftmaxRow instead.
func Activate(act ActivationType, x float64) float64 {
	switch act {
	case ActRelu:
		return Relu(x)
	case ActSigmoid:
		return Sigmoid(x)
	case ActTanh:
		return math.Tanh(x)
	case ActLinear:
		return x
	default:
		panic("Unknown activation type")
	}
}

// ActivationDerivative returns d act / d pre given the pre-activation z and
// the activation output a.
func ActivationDerivative(act ActivationType, z, a float64) float64 {
	switch act {
	case ActRelu:
		return ReluDerivative(z)
	case ActSigmoid:
		return a * (1.0 - a)
	case ActTanh:
		return 1.0 - a*a
	case ActLinear:
		return 1
	default:
		panic("Unknown activation type")
	}
}

func Relu(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

func ReluDerivative(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// SoftmaxRow applies softmax to each row of the matrix.
func SoftmaxRow(m *Matrix) {
	for i := 0; i < m.rows; i++ {
		row := m.data[i*m.cols : (i+1)*m.cols]
		maxVal := floats.Max(row)
		sum := 0.0
		for j, v := range row {
			row[j] = math.Exp(v - maxVal)
			sum += row[j]
		}
		floats.Scale(1/sum, row)
	}
}

// -------- DENSE LAYER -------- //

// DenseLayer is a fully connected layer with dropout applied to its input.
// The training graph zeroes input units with probability Dropout and leaves
// kept units unscaled; the inference graph scales the whole input by
// (1 - Dropout) instead, which is the same as scaling the weights.
type DenseLayer struct {
	W       *Param // in x out
	B       *Param // 1 x out
	ActType ActivationType
	Dropout float64
}

type denseCache struct {
	in   *Matrix // input after dropout / rescaling
	mask *Matrix // dropout keep mask, nil for the inference graph
	z, a *Matrix
}

func NewDenseLayer(name string, in, out int, act ActivationType, dropout float64, rng *rand.Rand) *DenseLayer {
	l := &DenseLayer{
		W:       NewParam(name+".W", in, out),
		B:       NewParam(name+".b", 1, out, out),
		ActType: act,
		Dropout: dropout,
	}
	if act == ActRelu {
		l.W.Value.RandomizeNormal(rng, math.Sqrt(2.0/float64(in)))
	} else {
		l.W.Value.RandomizeXavier(rng, in, out)
	}
	return l
}

func (l *DenseLayer) In() int  { return l.W.Value.rows }
func (l *DenseLayer) Out() int { return l.W.Value.cols }

func (l *DenseLayer) Params() []*Param {
	return []*Param{l.W, l.B}
}

func (l *DenseLayer) Forward(x *Matrix, train bool, rng *rand.Rand) *denseCache {
	c := &denseCache{in: x.Clone()}
	if l.Dropout > 0 {
		if train {
			c.mask = NewMatrix(x.rows, x.cols)
			keep := 1.0 - l.Dropout
			for i := range c.mask.data {
				if rng.Float64() < keep {
					c.mask.data[i] = 1
				}
			}
			c.in.dense.MulElem(c.in.dense, c.mask.dense)
		} else {
			c.in.Scale(1.0 - l.Dropout)
		}
	}

	c.z = NewMatrix(x.rows, l.Out())
	MatMul(c.in.dense, l.W.Value.dense, c.z)
	c.z.AddVector(l.B.Value)
	c.a = c.z.Clone()

	switch l.ActType {
	case ActSoftmax:
		SoftmaxRow(c.a)
	case ActLinear:
	default:
		act := l.ActType
		c.a.ApplyFunc(func(v float64) float64 { return Activate(act, v) })
	}
	return c
}

// Backward accumulates parameter gradients and returns the gradient with
// respect to the layer input. For softmax layers dA must already be the
// gradient with respect to the pre-activation.
func (l *DenseLayer) Backward(c *denseCache, dA *Matrix) *Matrix {
	dZ := dA.Clone()
	if l.ActType != ActSoftmax {
		for i := range dZ.data {
			dZ.data[i] *= ActivationDerivative(l.ActType, c.z.data[i], c.a.data[i])
		}
	}

	dW := NewMatrix(l.In(), l.Out())
	MatMul(c.in.dense.T(), dZ.dense, dW)
	l.W.Grad.Add(dW)
	SumRows(dZ, l.B.Grad.data)

	dX := NewMatrix(dZ.rows, l.In())
	MatMul(dZ.dense, l.W.Value.dense.T(), dX)
	if c.mask != nil {
		dX.dense.MulElem(dX.dense, c.mask.dense)
	} else if l.Dropout > 0 {
		dX.Scale(1.0 - l.Dropout)
	}
	return dX
}
