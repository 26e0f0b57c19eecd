package ml

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// ConvEncoder turns one sentence (words x depth) into a vector of Maps
// features: a convolution spanning Width words and the full depth, max-pooled
// over word positions, then act(max + bias).
type ConvEncoder struct {
	Width   int
	Depth   int
	Maps    int
	ActType ActivationType

	// Filter is stored as (Width*Depth) x Maps so that a row-major window of
	// Width consecutive words multiplies it directly.
	Filter *Param
	Bias   *Param
}

// convCache keeps what backprop needs for one sentence.
type convCache struct {
	argmax []int     // winning window per map
	pre    []float64 // max + bias
	out    []float64
}

func NewConvEncoder(name string, width, depth, maps int, act ActivationType, rng *rand.Rand) *ConvEncoder {
	c := &ConvEncoder{
		Width:   width,
		Depth:   depth,
		Maps:    maps,
		ActType: act,
		Filter:  NewParam(name+".W", width*depth, maps, maps, 1, width, depth),
		Bias:    NewParam(name+".b", 1, maps, maps),
	}
	fanIn := width * depth
	fanOut := maps * width * depth
	c.Filter.Value.RandomizeUniform(rng, math.Sqrt(6.0/float64(fanIn+fanOut)))
	return c
}

func (c *ConvEncoder) Params() []*Param {
	return []*Param{c.Filter, c.Bias}
}

// Forward encodes x (words x Depth) and writes Maps values into out.
func (c *ConvEncoder) Forward(x *Matrix, out []float64) convCache {
	if x.cols != c.Depth {
		panic(fmt.Sprintf("conv width %d: input depth %d, want %d", c.Width, x.cols, c.Depth))
	}
	positions := x.rows - c.Width + 1
	if positions < 1 {
		panic(fmt.Sprintf("conv width %d: sentence of %d words is too short", c.Width, x.rows))
	}

	span := c.Width * c.Depth
	windows := NewMatrix(positions, span)
	for p := 0; p < positions; p++ {
		copy(windows.Row(p), x.data[p*c.Depth:p*c.Depth+span])
	}
	z := NewMatrix(positions, c.Maps)
	MatMul(windows.dense, c.Filter.Value.dense, z)

	cache := convCache{
		argmax: make([]int, c.Maps),
		pre:    make([]float64, c.Maps),
		out:    out,
	}
	bias := c.Bias.Value.data
	for m := 0; m < c.Maps; m++ {
		best := 0
		for p := 1; p < positions; p++ {
			if z.data[p*c.Maps+m] > z.data[best*c.Maps+m] {
				best = p
			}
		}
		cache.argmax[m] = best
		cache.pre[m] = z.data[best*c.Maps+m] + bias[m]
		out[m] = Activate(c.ActType, cache.pre[m])
	}
	return cache
}

// Backward accumulates filter and bias gradients for one sentence and, when
// dx is non-nil, adds the input gradient into it.
func (c *ConvEncoder) Backward(x *Matrix, cache convCache, dOut []float64, dx *Matrix) {
	span := c.Width * c.Depth
	wData := c.Filter.Value.data
	gData := c.Filter.Grad.data
	for m := 0; m < c.Maps; m++ {
		d := dOut[m] * ActivationDerivative(c.ActType, cache.pre[m], cache.out[m])
		if d == 0 {
			continue
		}
		c.Bias.Grad.data[m] += d

		start := cache.argmax[m] * c.Depth
		window := x.data[start : start+span]
		for j, v := range window {
			gData[j*c.Maps+m] += v * d
		}
		if dx != nil {
			dWindow := dx.data[start : start+span]
			for j := range dWindow {
				dWindow[j] += wData[j*c.Maps+m] * d
			}
		}
	}
}
