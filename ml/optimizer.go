package ml

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	OptAdaDelta OptimizerType = "adadelta"
	OptSGD      OptimizerType = "sgd"
)

// Default settings for AdaDelta on sentence classifiers
var DefaultAdaDeltaConfig = AdaDeltaConfig{
	Rho:     0.95,
	Epsilon: 1e-6,
	NormLim: 9,
}

// clipEpsilon keeps the rescale finite for zero-norm columns.
const clipEpsilon = 1e-7

type OptimizerType string

type AdaDeltaConfig struct {
	Rho     float64
	Epsilon float64
	NormLim float64 // <= 0 disables column clipping
}

type AdaDeltaOptimizer struct {
	cfg    AdaDeltaConfig
	states map[*Param]*paramState
}

// paramState holds the running averages E[g²] and E[Δ²] of one parameter.
type paramState struct {
	avgSqGrad   *Matrix
	avgSqUpdate *Matrix
}

type SGDOptimizer struct {
	LearningRate float64
	NormLim      float64
}

// Optimizer applies one step to params from the gradients accumulated in
// Param.Grad. Frozen params are skipped.
type Optimizer interface {
	Update(params []*Param)
}

func NewOptimizer(params []*Param, cfg TrainingConfig) Optimizer {
	switch cfg.Optimizer {
	case OptSGD:
		return &SGDOptimizer{LearningRate: cfg.LearningRate, NormLim: cfg.NormLim}

	default:
		// Set defaults if 0
		adaCfg := DefaultAdaDeltaConfig
		if cfg.Rho != 0 {
			adaCfg.Rho = cfg.Rho
		}
		if cfg.Epsilon != 0 {
			adaCfg.Epsilon = cfg.Epsilon
		}
		adaCfg.NormLim = cfg.NormLim
		return NewAdaDeltaOptimizer(params, adaCfg)
	}
}

func NewAdaDeltaOptimizer(params []*Param, cfg AdaDeltaConfig) *AdaDeltaOptimizer {
	opt := &AdaDeltaOptimizer{
		cfg:    cfg,
		states: make(map[*Param]*paramState, len(params)),
	}
	for _, p := range params {
		opt.state(p)
	}
	return opt
}

func (opt *AdaDeltaOptimizer) state(p *Param) *paramState {
	s, ok := opt.states[p]
	if !ok {
		s = &paramState{
			avgSqGrad:   NewMatrix(p.Value.rows, p.Value.cols),
			avgSqUpdate: NewMatrix(p.Value.rows, p.Value.cols),
		}
		opt.states[p] = s
	}
	return s
}

// Accumulators returns copies of E[g²] and E[Δ²] for p.
func (opt *AdaDeltaOptimizer) Accumulators(p *Param) (avgSqGrad, avgSqUpdate []float64) {
	s := opt.state(p)
	return append([]float64(nil), s.avgSqGrad.data...), append([]float64(nil), s.avgSqUpdate.data...)
}

// ------ ADADELTA OPTIMIZER METHODS ------ //
// Update applies the AdaDelta rule to every parameter, then rescales any
// over-long column of matrix-shaped non-embedding parameters.
func (opt *AdaDeltaOptimizer) Update(params []*Param) {
	rho := opt.cfg.Rho
	eps := opt.cfg.Epsilon

	for _, p := range params {
		if p.Frozen {
			continue
		}
		s := opt.state(p)
		value, grad := p.Value.data, p.Grad.data
		eg, eu := s.avgSqGrad.data, s.avgSqUpdate.data

		for i, g := range grad {
			// E[g²] = rho * E[g²] + (1 - rho) * g²
			eg[i] = rho*eg[i] + (1-rho)*g*g
			// Δ = -sqrt(E[Δ²] + eps) / sqrt(E[g²] + eps) * g
			step := -math.Sqrt(eu[i]+eps) / math.Sqrt(eg[i]+eps) * g
			// E[Δ²] = rho * E[Δ²] + (1 - rho) * Δ²
			eu[i] = rho*eu[i] + (1-rho)*step*step
			value[i] += step
		}

		if p.ColumnClipped() && opt.cfg.NormLim > 0 {
			ClipColumns(p.Value, opt.cfg.NormLim)
		}
	}
}

// ------ SGD OPTIMIZER METHODS ------ //
func (opt *SGDOptimizer) Update(params []*Param) {
	for _, p := range params {
		if p.Frozen {
			continue
		}
		// Simple update: W = W - (lr * gradient)
		floats.AddScaled(p.Value.data, -opt.LearningRate, p.Grad.data)
		if p.ColumnClipped() && opt.NormLim > 0 {
			ClipColumns(p.Value, opt.NormLim)
		}
	}
}

// ClipColumns multiplies every column of m whose L2 norm exceeds limit by
// limit / (norm + 1e-7). Other columns are untouched.
func ClipColumns(m *Matrix, limit float64) {
	norms := m.ColNorms()
	scale := make([]float64, len(norms))
	clipped := false
	for j, n := range norms {
		scale[j] = 1
		if n > limit {
			scale[j] = limit / (n + clipEpsilon)
			clipped = true
		}
	}
	if !clipped {
		return
	}
	for i := 0; i < m.rows; i++ {
		floats.Mul(m.Row(i), scale)
	}
}
