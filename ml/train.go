package ml

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// TrainingContext carries the collaborators of one training run.
type TrainingContext struct {
	RNG  *rand.Rand
	Log  *zap.Logger
	Sink ArtifactSink
}

func NewTrainingContext(seed uint64, log *zap.Logger, sink ArtifactSink) *TrainingContext {
	return &TrainingContext{
		RNG:  rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		Log:  log,
		Sink: sink,
	}
}

// EpochStats are the mean training cost components of one epoch.
type EpochStats struct {
	Epoch          int
	Batches        int // optimizer steps taken
	Cost           float64
	Heads          []float64
	Penalty        float64
	Regularization float64
	Duration       time.Duration
}

type Result struct {
	Epochs    int // epochs completed
	BestScore float64
	BestEpoch int // 0 when no evaluation ran
	History   []EpochStats
	Last      *Evaluation // test split at the last evaluation
	LastTrain *Evaluation // training split at the last evaluation
}

// Splits are the datasets of one run. Valid is only used with
// TrainingConfig.TrainOnValid.
type Splits struct {
	Train, Valid, Test *Dataset
}

func (s Splits) validate(cfg TrainingConfig, mc ModelConfig) error {
	if err := s.Train.Validate(mc); err != nil {
		return errors.Wrap(err, "training set")
	}
	if err := s.Test.Validate(mc); err != nil {
		return errors.Wrap(err, "test set")
	}
	if !cfg.TrainOnValid {
		return nil
	}
	if s.Valid == nil {
		return configErrorf("train_on_valid set without a validation split")
	}
	return errors.Wrap(s.Valid.Validate(mc), "validation set")
}

// Train runs minibatch training of model on the training split, followed by
// the validation split when TrainOnValid is set, evaluating on the test split
// every PrintFreq epochs. A cancelled ctx stops at the next minibatch, writes
// a checkpoint and returns ErrInterrupted.
func Train(ctx context.Context, model *Model, data Splits, cfg TrainingConfig, tc *TrainingContext) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := data.validate(cfg, model.Config); err != nil {
		return nil, err
	}
	log := tc.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("training config", zap.Any("training", cfg), zap.Any("model", model.Config))

	// 1. Setup & Allocation
	params := model.Params()
	optimizer := NewOptimizer(params, cfg)
	objective := cfg.Objective()
	heads := len(model.Classifier.Heads)

	groups := []*Dataset{data.Train}
	if cfg.TrainOnValid {
		groups = append(groups, data.Valid)
	}
	orders := make([][]int, len(groups))
	numBatches := 0
	for g, ds := range groups {
		orders[g] = NewIndexList(ds.NumBatches(cfg.BatchSize))
		numBatches += len(orders[g])
	}

	res := &Result{BestScore: -1}
	sinceBest := 0

	// 2. Training Loop
	start := time.Now()
	log.Info("starting training", zap.Int("train_docs", data.Train.Len()), zap.Int("test_docs", data.Test.Len()),
		zap.Bool("train_on_valid", cfg.TrainOnValid), zap.Int("batches", numBatches), zap.Int("params", len(params)))

	for epoch := 1; epoch <= cfg.MaxIteration; epoch++ {
		epochStart := time.Now()
		costs := newEpochCosts(heads, numBatches)

		n := 0
		for g, ds := range groups {
			ShuffleIndices(tc.RNG, orders[g])
			for _, b := range orders[g] {
				if ctx.Err() != nil {
					return res, interrupt(model, tc, log, epoch)
				}

				batch := ds.Batch(b, cfg.BatchSize)
				labels := batch.Labels(heads)

				// --- A. Forward & Backward ---
				model.ZeroGrads()
				pass := model.Forward(batch, true, tc.RNG)
				loss := model.Backward(pass, labels, objective)

				if !finite(loss.Total) {
					return res, &NumericDivergenceError{Epoch: epoch, Batch: n, What: "cost"}
				}
				if p := model.NonFiniteGrad(); p != nil {
					return res, &NumericDivergenceError{Epoch: epoch, Batch: n, What: p.Name}
				}

				// --- B. Optimization ---
				optimizer.Update(params)
				model.ZeroPadRows()

				costs.add(loss)
				n++
			}
		}

		// Logging
		es := costs.summarize(epoch)
		es.Duration = time.Since(epochStart)
		res.History = append(res.History, es)
		res.Epochs = epoch
		log.Info("epoch",
			zap.Int("epoch", epoch),
			zap.Int("batches", es.Batches),
			zap.Float64("cost", es.Cost),
			zap.Float64s("head_costs", es.Heads),
			zap.Float64("score_penalty", es.Penalty),
			zap.Float64("regularization", es.Regularization),
			zap.Duration("took", es.Duration),
		)

		if epoch%cfg.PrintFreq != 0 {
			continue
		}

		// --- C. Evaluation & Checkpointing ---
		ev := Evaluate(model, data.Test, cfg.BatchSize, cfg.NumWorkers)
		trainEv := Evaluate(model, data.Train, cfg.BatchSize, cfg.NumWorkers)
		res.Last, res.LastTrain = ev, trainEv
		score := ev.Monitor(cfg.MonitorHead)
		improved := score > res.BestScore
		if improved {
			res.BestScore, res.BestEpoch = score, epoch
			sinceBest = 0
		} else {
			sinceBest++
		}
		logEvaluation(log, epoch, ev, trainEv, res.BestScore)

		if err := writeEvaluation(tc.Sink, model, epoch, ev); err != nil {
			return res, err
		}
		if improved || (cfg.CheckpointEvery > 0 && epoch%cfg.CheckpointEvery == 0) {
			if err := checkpoint(tc.Sink, model, epoch, ev); err != nil {
				return res, err
			}
			log.Info("checkpoint saved", zap.Int("epoch", epoch), zap.Bool("improved", improved))
		}

		if cfg.Patience > 0 && sinceBest >= cfg.Patience {
			log.Info("early stop", zap.Int("epoch", epoch), zap.Int("best_epoch", res.BestEpoch))
			break
		}
	}

	log.Info("training complete", zap.Duration("total", time.Since(start)),
		zap.Float64("best_score", res.BestScore), zap.Int("best_epoch", res.BestEpoch))
	return res, nil
}

// epochCosts collects per-minibatch loss components for one epoch.
type epochCosts struct {
	total, penalty, reg []float64
	heads               [][]float64
}

func newEpochCosts(heads, batches int) *epochCosts {
	c := &epochCosts{
		total:   make([]float64, 0, batches),
		penalty: make([]float64, 0, batches),
		reg:     make([]float64, 0, batches),
		heads:   make([][]float64, heads),
	}
	for h := range c.heads {
		c.heads[h] = make([]float64, 0, batches)
	}
	return c
}

func (c *epochCosts) add(l Loss) {
	c.total = append(c.total, l.Total)
	c.penalty = append(c.penalty, l.Penalty)
	c.reg = append(c.reg, l.Regularization)
	for h, v := range l.Heads {
		c.heads[h] = append(c.heads[h], v)
	}
}

func (c *epochCosts) summarize(epoch int) EpochStats {
	// stats.Mean only fails on empty input, which leaves the zero value
	es := EpochStats{Epoch: epoch, Batches: len(c.total), Heads: make([]float64, len(c.heads))}
	es.Cost, _ = stats.Mean(c.total)
	es.Penalty, _ = stats.Mean(c.penalty)
	es.Regularization, _ = stats.Mean(c.reg)
	for h, vs := range c.heads {
		es.Heads[h], _ = stats.Mean(vs)
	}
	return es
}

func logEvaluation(log *zap.Logger, epoch int, ev, trainEv *Evaluation, best float64) {
	for h, m := range ev.Metrics {
		log.Info("evaluation",
			zap.Int("epoch", epoch),
			zap.String("head", m.Name),
			zap.Float64("train_accuracy", trainEv.Metrics[h].Accuracy),
			zap.Float64("accuracy", m.Accuracy),
			zap.Float64("macro_f1", m.MacroF1),
			zap.Float64s("precision", m.Precisions()),
			zap.Float64s("recall", m.Recalls()),
			zap.Float64s("f1", m.F1s()),
			zap.Float64("test_cost", ev.Cost),
			zap.Float64("best", best),
		)
	}
}

func writeEvaluation(sink ArtifactSink, model *Model, epoch int, ev *Evaluation) error {
	if sink == nil {
		return nil
	}
	for h, head := range model.Classifier.Heads {
		if err := sink.WritePredictions(epoch, head.Name, ev.Predictions[h]); err != nil {
			return errors.Wrapf(err, "writing %s predictions", head.Name)
		}
	}
	return nil
}

func checkpoint(sink ArtifactSink, model *Model, epoch int, ev *Evaluation) error {
	if sink == nil {
		return nil
	}
	if err := sink.SaveCheckpoint(epoch, model); err != nil {
		return errors.Wrap(err, "saving checkpoint")
	}
	if ev != nil {
		if err := sink.WriteScores(epoch, ev.Scores); err != nil {
			return errors.Wrap(err, "writing scores")
		}
	}
	return nil
}

// interrupt saves the current model and reports the cancellation.
func interrupt(model *Model, tc *TrainingContext, log *zap.Logger, epoch int) error {
	log.Warn("interrupted, saving model", zap.Int("epoch", epoch))
	if err := checkpoint(tc.Sink, model, epoch, nil); err != nil {
		return errors.Wrapf(ErrInterrupted, "checkpoint failed: %v", err)
	}
	return ErrInterrupted
}
