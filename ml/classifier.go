package ml

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Head is one task-specific softmax output sharing the classifier trunk.
type Head struct {
	Name   string
	Weight float64
	Layer  *DenseLayer
}

// Classifier is a dropout MLP: a shared trunk of hidden layers followed by
// one softmax head per task.
type Classifier struct {
	Hidden []*DenseLayer
	Heads  []*Head
}

type classifierCache struct {
	hidden []*denseCache
	heads  []*denseCache
}

// HeadConfig describes one task head.
type HeadConfig struct {
	Name    string  `json:"name"`
	Classes int     `json:"classes"`
	Weight  float64 `json:"weight"`
}

func NewClassifier(in int, hidden []int, heads []HeadConfig, act ActivationType, dropout []float64, rng *rand.Rand) *Classifier {
	rate := func(i int) float64 {
		if len(dropout) == 0 {
			return 0
		}
		if i < len(dropout) {
			return dropout[i]
		}
		return dropout[len(dropout)-1]
	}

	c := &Classifier{}
	prev := in
	for i, units := range hidden {
		c.Hidden = append(c.Hidden, NewDenseLayer(fmt.Sprintf("hidden%d", i), prev, units, act, rate(i), rng))
		prev = units
	}
	for _, h := range heads {
		weight := h.Weight
		if weight == 0 {
			weight = 1
		}
		c.Heads = append(c.Heads, &Head{
			Name:   h.Name,
			Weight: weight,
			Layer:  NewDenseLayer("head."+h.Name, prev, h.Classes, ActSoftmax, rate(len(hidden)), rng),
		})
	}
	return c
}

func (c *Classifier) Params() []*Param {
	var params []*Param
	for _, l := range c.Hidden {
		params = append(params, l.Params()...)
	}
	for _, h := range c.Heads {
		params = append(params, h.Layer.Params()...)
	}
	return params
}

// Weights returns the weight matrices subject to L1/L2 regularization.
func (c *Classifier) Weights() []*Param {
	var ws []*Param
	for _, l := range c.Hidden {
		ws = append(ws, l.W)
	}
	for _, h := range c.Heads {
		ws = append(ws, h.Layer.W)
	}
	return ws
}

// Forward returns per-head class probabilities (docs x classes). With train
// set the dropout graph is used; otherwise the rescaled clean graph.
func (c *Classifier) Forward(x *Matrix, train bool, rng *rand.Rand) ([]*Matrix, *classifierCache) {
	cache := &classifierCache{}
	act := x
	for _, l := range c.Hidden {
		lc := l.Forward(act, train, rng)
		cache.hidden = append(cache.hidden, lc)
		act = lc.a
	}
	probs := make([]*Matrix, len(c.Heads))
	for i, h := range c.Heads {
		hc := h.Layer.Forward(act, train, rng)
		cache.heads = append(cache.heads, hc)
		probs[i] = hc.a
	}
	return probs, cache
}

// NLL returns the mean negative log-likelihood of labels under probs.
func NLL(probs *Matrix, labels []int) float64 {
	const epsilon = 1e-15
	total := 0.0
	for i, y := range labels {
		total += -math.Log(probs.At(i, y) + epsilon)
	}
	return total / float64(len(labels))
}

// Backward propagates the weighted NLL of every head and returns the
// gradient with respect to the classifier input.
func (c *Classifier) Backward(cache *classifierCache, labels [][]int) *Matrix {
	var dTrunk *Matrix
	for i, h := range c.Heads {
		probs := cache.heads[i].a
		docs := probs.rows
		dZ := probs.Clone()
		for b, y := range labels[i] {
			dZ.data[b*dZ.cols+y] -= 1.0
		}
		dZ.Scale(h.Weight / float64(docs))

		dIn := h.Layer.Backward(cache.heads[i], dZ)
		if dTrunk == nil {
			dTrunk = dIn
		} else {
			dTrunk.Add(dIn)
		}
	}
	for i := len(c.Hidden) - 1; i >= 0; i-- {
		dTrunk = c.Hidden[i].Backward(cache.hidden[i], dTrunk)
	}
	return dTrunk
}

// Regularize adds l1*sum|W| + l2*sum W^2 gradients for every weight matrix
// and returns the penalty value.
func (c *Classifier) Regularize(l1, l2 float64) float64 {
	if l1 == 0 && l2 == 0 {
		return 0
	}
	cost := 0.0
	for _, w := range c.Weights() {
		for i, v := range w.Value.data {
			cost += l1*math.Abs(v) + l2*v*v
			w.Grad.data[i] += l1*sign(v) + 2*l2*v
		}
	}
	return cost
}

// RegularizationCost evaluates the penalty without touching gradients.
func (c *Classifier) RegularizationCost(l1, l2 float64) float64 {
	cost := 0.0
	for _, w := range c.Weights() {
		for _, v := range w.Value.data {
			cost += l1*math.Abs(v) + l2*v*v
		}
	}
	return cost
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
