package ml

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Gate scores every sentence of a document with sigmoid(x·Theta), zeroes the
// score of padding sentences and, when K > 0, keeps only the K best valid
// sentences. The document vector is the score-weighted sum of the sentence
// vectors that survive.
type Gate struct {
	Theta *Param // Features x 1
	K     int
}

// gateCache holds one channel's forward state for a batch. Rows of the flat
// slices are indexed b*sentences + s.
type gateCache struct {
	docs, sentences int
	raw             []float64 // sigmoid(x·theta) before masking
	score           []float64 // raw * mask
	weight          []float64 // selected * score
	selected        []bool
}

func NewGate(name string, features, k int, rng *rand.Rand) *Gate {
	g := &Gate{
		Theta: NewParam(name+".theta", features, 1),
		K:     k,
	}
	for i := range g.Theta.Value.data {
		g.Theta.Value.data[i] = rng.Float64()
	}
	return g
}

func (g *Gate) Features() int { return g.Theta.Value.rows }

// Forward gates x ((docs*sentences) x Features) under mask (docs*sentences)
// and returns the docs x Features document matrix.
func (g *Gate) Forward(x *Matrix, mask []float64, docs, sentences int) (*Matrix, *gateCache) {
	n := docs * sentences
	if x.rows != n || x.cols != g.Features() || len(mask) != n {
		panic(fmt.Sprintf("gate shape mismatch: x %dx%d, mask %d, want %dx%d", x.rows, x.cols, len(mask), n, g.Features()))
	}

	z := NewMatrix(n, 1)
	MatMul(x.dense, g.Theta.Value.dense, z)

	c := &gateCache{
		docs:      docs,
		sentences: sentences,
		raw:       make([]float64, n),
		score:     make([]float64, n),
		weight:    make([]float64, n),
		selected:  make([]bool, n),
	}
	for i, v := range z.data {
		c.raw[i] = Sigmoid(v)
		c.score[i] = c.raw[i] * mask[i]
	}

	for b := 0; b < docs; b++ {
		row := b * sentences
		for _, s := range SelectTopK(c.score[row:row+sentences], mask[row:row+sentences], g.K) {
			c.selected[row+s] = true
			c.weight[row+s] = c.score[row+s]
		}
	}

	doc := NewMatrix(docs, g.Features())
	for b := 0; b < docs; b++ {
		dst := doc.Row(b)
		for s := 0; s < sentences; s++ {
			i := b*sentences + s
			if c.weight[i] != 0 {
				floats.AddScaled(dst, c.weight[i], x.Row(i))
			}
		}
	}
	return doc, c
}

// SelectTopK returns the indices of the sentences that keep a nonzero
// contribution. Padding sentences (mask 0) are never returned. With k == 0
// every valid sentence is kept; otherwise the min(k, valid) highest scores
// are kept, ties going to the lowest index. Indices come back in ranking
// order.
func SelectTopK(score, mask []float64, k int) []int {
	valid := make([]int, 0, len(score))
	for s, m := range mask {
		if m != 0 {
			valid = append(valid, s)
		}
	}
	if k == 0 {
		return valid
	}
	sort.SliceStable(valid, func(i, j int) bool {
		return score[valid[i]] > score[valid[j]]
	})
	if k < len(valid) {
		valid = valid[:k]
	}
	return valid
}

// Backward takes dDoc (docs x Features) and returns the gradient for x. The
// selection mask is treated as a constant. penalty is the gradient of the
// loss with respect to every masked score (the score-penalty term); it
// reaches all valid sentences whether selected or not.
func (g *Gate) Backward(x *Matrix, mask []float64, c *gateCache, dDoc *Matrix, penalty float64) *Matrix {
	dx := NewMatrix(x.rows, x.cols)
	theta := g.Theta.Value.data
	dTheta := g.Theta.Grad.data

	for b := 0; b < c.docs; b++ {
		upstream := dDoc.Row(b)
		for s := 0; s < c.sentences; s++ {
			i := b*c.sentences + s
			if mask[i] == 0 {
				continue
			}
			row := x.Row(i)
			dScore := penalty
			if c.selected[i] {
				dScore += floats.Dot(row, upstream)
				floats.AddScaled(dx.Row(i), c.weight[i], upstream)
			}
			dz := dScore * mask[i] * c.raw[i] * (1 - c.raw[i])
			if dz == 0 {
				continue
			}
			floats.AddScaled(dTheta, dz, row)
			floats.AddScaled(dx.Row(i), dz, theta)
		}
	}
	return dx
}
