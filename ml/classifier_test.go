package ml

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifierProbabilitiesSumToOne(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	heads := []HeadConfig{{Name: "pop", Classes: 2}, {Name: "type", Classes: 5}}
	c := NewClassifier(6, []int{4}, heads, ActRelu, []float64{0.5}, rng)

	x := NewMatrix(3, 6)
	x.RandomizeUniform(rng, 1)
	probs, _ := c.Forward(x, false, nil)
	require.Len(t, probs, 2)
	for h, p := range probs {
		assert.Equal(t, heads[h].Classes, p.Cols())
		for b := 0; b < p.Rows(); b++ {
			sum := 0.0
			for _, v := range p.Row(b) {
				sum += v
			}
			assert.InDelta(t, 1.0, sum, 1e-12)
		}
	}
}

func TestClassifierDropoutRatesRepeat(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	c := NewClassifier(6, []int{4, 4}, []HeadConfig{{Name: "a", Classes: 2}}, ActRelu, []float64{0.2, 0.5}, rng)
	assert.Equal(t, 0.2, c.Hidden[0].Dropout)
	assert.Equal(t, 0.5, c.Hidden[1].Dropout)
	assert.Equal(t, 0.5, c.Heads[0].Layer.Dropout)
	assert.Equal(t, 1.0, c.Heads[0].Weight)
}

func TestDenseDropoutInferenceScalesInput(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	l := NewDenseLayer("d", 2, 1, ActLinear, 0.5, rng)
	copy(l.W.Value.Data(), []float64{1, 1})

	x := NewMatrixFromSlice(1, 2, []float64{2, 4})
	c := l.Forward(x, false, nil)
	assert.InDelta(t, 3.0, c.a.At(0, 0), 1e-12)

	c = l.Forward(x, true, rng)
	for i, v := range c.in.Data() {
		assert.Contains(t, []float64{0, x.Data()[i]}, v, "train graph never rescales kept units")
	}
}

func TestClassifierGradCheck(t *testing.T) {
	rng := rand.New(rand.NewPCG(6, 6))
	heads := []HeadConfig{{Name: "pop", Classes: 3, Weight: 0.7}, {Name: "type", Classes: 4}}
	c := NewClassifier(5, []int{4}, heads, ActTanh, nil, rng)
	for _, p := range c.Params() {
		p.Value.RandomizeUniform(rng, 0.5)
	}
	const l1, l2 = 0.01, 0.02

	x := NewMatrix(3, 5)
	x.RandomizeUniform(rng, 1)
	labels := [][]int{{0, 2, 1}, {3, 0, 1}}

	loss := func() float64 {
		probs, _ := c.Forward(x, false, nil)
		total := c.RegularizationCost(l1, l2)
		for h, p := range probs {
			total += c.Heads[h].Weight * NLL(p, labels[h])
		}
		return total
	}

	_, cache := c.Forward(x, false, nil)
	reg := c.Regularize(l1, l2)
	assert.InDelta(t, c.RegularizationCost(l1, l2), reg, 1e-12)
	dx := c.Backward(cache, labels)

	for _, p := range c.Params() {
		for i := range p.Value.Data() {
			assertGradClose(t, p.Name, p.Grad.Data()[i], numericGrad(p.Value.Data(), i, loss))
		}
	}
	for i := range x.Data() {
		assertGradClose(t, "x", dx.Data()[i], numericGrad(x.Data(), i, loss))
	}
}

func TestNLL(t *testing.T) {
	probs := NewMatrixFromSlice(2, 2, []float64{0.25, 0.75, 0.5, 0.5})
	want := -(math.Log(0.75+1e-15) + math.Log(0.5+1e-15)) / 2
	assert.InDelta(t, want, NLL(probs, []int{1, 0}), 1e-12)
}
