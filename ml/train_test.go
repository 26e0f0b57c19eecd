package ml

import (
	"context"
	"math"
	"math/rand/v2"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// memorySink records artifacts instead of writing them.
type memorySink struct {
	predictions map[int]map[string][]int
	scores      map[int][][]float64
	checkpoints []int
}

func newMemorySink() *memorySink {
	return &memorySink{
		predictions: map[int]map[string][]int{},
		scores:      map[int][][]float64{},
	}
}

func (s *memorySink) WritePredictions(epoch int, head string, preds []int) error {
	if s.predictions[epoch] == nil {
		s.predictions[epoch] = map[string][]int{}
	}
	s.predictions[epoch][head] = preds
	return nil
}

func (s *memorySink) WriteScores(epoch int, scores [][]float64) error {
	s.scores[epoch] = scores
	return nil
}

func (s *memorySink) SaveCheckpoint(epoch int, model *Model) error {
	s.checkpoints = append(s.checkpoints, epoch)
	return nil
}

func trainFixture(t *testing.T, seed uint64) (*Model, *Dataset, *Dataset, TrainingConfig) {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, seed))
	cfg := smallConfig()
	cfg.Dropout = []float64{0.5}
	model, err := NewModel(cfg, nil, rng)
	require.NoError(t, err)

	tc := DefaultConfig().Training
	tc.BatchSize = 4
	tc.MaxIteration = 4
	tc.PrintFreq = 2
	tc.NumWorkers = 2
	return model, randomDataset(rng, cfg, 10), randomDataset(rng, cfg, 5), tc
}

func TestTrainWritesArtifactsOnSchedule(t *testing.T) {
	model, train, test, cfg := trainFixture(t, 1)
	cfg.CheckpointEvery = 4
	sink := newMemorySink()

	res, err := Train(context.Background(), model, Splits{Train: train, Test: test}, cfg, NewTrainingContext(1, zap.NewNop(), sink))
	require.NoError(t, err)

	assert.Equal(t, 4, res.Epochs)
	require.Len(t, res.History, 4)
	for _, h := range res.History {
		assert.False(t, math.IsNaN(h.Cost))
		assert.Len(t, h.Heads, 2)
	}

	// predictions on every evaluation, for every head
	require.Len(t, sink.predictions, 2)
	for _, epoch := range []int{2, 4} {
		require.Contains(t, sink.predictions, epoch)
		assert.Len(t, sink.predictions[epoch]["pop"], test.Len())
		assert.Len(t, sink.predictions[epoch]["type"], test.Len())
	}

	// first evaluation always improves on the initial best; epoch 4 is forced
	assert.Contains(t, sink.checkpoints, 2)
	assert.Contains(t, sink.checkpoints, 4)
	for _, epoch := range sink.checkpoints {
		require.Len(t, sink.scores[epoch], test.Len())
		assert.Len(t, sink.scores[epoch][0], model.Channels()*model.Config.MaxSentences)
	}
	assert.Contains(t, []int{2, 4}, res.BestEpoch)
	assert.GreaterOrEqual(t, res.BestScore, 0.0)
	require.NotNil(t, res.Last)
	assert.Len(t, res.Last.Metrics, 2)
}

func TestTrainEarlyStop(t *testing.T) {
	model, train, test, cfg := trainFixture(t, 2)
	cfg.Optimizer = OptSGD
	cfg.LearningRate = 1e-300
	cfg.PrintFreq = 1
	cfg.Patience = 1
	cfg.MaxIteration = 10

	res, err := Train(context.Background(), model, Splits{Train: train, Test: test}, cfg, NewTrainingContext(2, nil, nil))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Epochs, "a frozen model never improves after the first evaluation")
	assert.Equal(t, 1, res.BestEpoch)
}

func TestTrainDetectsDivergence(t *testing.T) {
	model, train, test, cfg := trainFixture(t, 3)
	model.Classifier.Heads[0].Layer.W.Value.Data()[0] = math.NaN()

	_, err := Train(context.Background(), model, Splits{Train: train, Test: test}, cfg, NewTrainingContext(3, zap.NewNop(), nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNumericDivergence)

	var div *NumericDivergenceError
	require.ErrorAs(t, err, &div)
	assert.Equal(t, 1, div.Epoch)
	assert.Equal(t, 0, div.Batch)
}

func TestTrainInterruptSavesCheckpoint(t *testing.T) {
	model, train, test, cfg := trainFixture(t, 4)
	sink := newMemorySink()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Train(ctx, model, Splits{Train: train, Test: test}, cfg, NewTrainingContext(4, zap.NewNop(), sink))
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, []int{1}, sink.checkpoints)
	assert.Zero(t, res.Epochs)
}

func TestTrainRejectsInvalidData(t *testing.T) {
	model, train, test, cfg := trainFixture(t, 5)
	test.Docs[0].Labels[0] = 7

	_, err := Train(context.Background(), model, Splits{Train: train, Test: test}, cfg, NewTrainingContext(5, nil, nil))
	assert.ErrorIs(t, err, ErrUnknownLabel)
}

func TestTrainWithFileSink(t *testing.T) {
	model, train, test, cfg := trainFixture(t, 6)
	cfg.MaxIteration = 2
	dir := t.TempDir()
	sink, err := NewFileSink(DataConfig{
		ExpName:   "exp",
		PredDir:   dir + "/pred",
		ResultDir: dir + "/results",
		ModelDir:  dir + "/models",
	})
	require.NoError(t, err)

	_, err = Train(context.Background(), model, Splits{Train: train, Test: test}, cfg, NewTrainingContext(6, zap.NewNop(), sink))
	require.NoError(t, err)

	raw, err := os.ReadFile(sink.PredictionPath(2, "pop"))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(raw)), "\n"), test.Len())

	raw, err = os.ReadFile(sink.ScorePath(2))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, test.Len())
	assert.Len(t, strings.Fields(lines[0]), model.Channels()*model.Config.MaxSentences)

	loaded, err := LoadModel(sink.CheckpointPath(2))
	require.NoError(t, err)
	assert.Equal(t, model.Config, loaded.Config)
}

func TestTrainOnValidAddsUpdates(t *testing.T) {
	model, train, test, cfg := trainFixture(t, 7)
	valid := randomDataset(rand.New(rand.NewPCG(70, 70)), model.Config, 5)
	cfg.MaxIteration = 2
	cfg.TrainOnValid = true
	sink := newMemorySink()

	res, err := Train(context.Background(), model, Splits{Train: train, Valid: valid, Test: test}, cfg,
		NewTrainingContext(7, zap.NewNop(), sink))
	require.NoError(t, err)
	require.Len(t, res.History, 2)
	// 10 training docs and 5 validation docs in batches of 4
	for _, h := range res.History {
		assert.Equal(t, 3+2, h.Batches)
	}
	assert.Len(t, sink.predictions[2]["pop"], test.Len(), "evaluation stays on the test split")

	cfg.TrainOnValid = false
	res, err = Train(context.Background(), model, Splits{Train: train, Valid: valid, Test: test}, cfg,
		NewTrainingContext(7, zap.NewNop(), nil))
	require.NoError(t, err)
	assert.Equal(t, 3, res.History[0].Batches)
}

func TestTrainOnValidRequiresSplit(t *testing.T) {
	model, train, test, cfg := trainFixture(t, 8)
	cfg.TrainOnValid = true

	_, err := Train(context.Background(), model, Splits{Train: train, Test: test}, cfg, NewTrainingContext(8, nil, nil))
	assert.ErrorIs(t, err, ErrConfig)

	valid := randomDataset(rand.New(rand.NewPCG(80, 80)), model.Config, 2)
	valid.Docs[1].Labels[0] = 9
	_, err = Train(context.Background(), model, Splits{Train: train, Valid: valid, Test: test}, cfg, NewTrainingContext(8, nil, nil))
	assert.ErrorIs(t, err, ErrUnknownLabel)
}

func TestTrainLogsTrainAccuracy(t *testing.T) {
	model, train, test, cfg := trainFixture(t, 9)
	cfg.MaxIteration = 2
	core, logs := observer.New(zapcore.InfoLevel)

	res, err := Train(context.Background(), model, Splits{Train: train, Test: test}, cfg, NewTrainingContext(9, zap.New(core), nil))
	require.NoError(t, err)
	require.NotNil(t, res.LastTrain)
	assert.Len(t, res.LastTrain.Predictions[0], train.Len())

	entries := logs.FilterMessage("evaluation").All()
	require.Len(t, entries, 2, "one line per head")
	for h, e := range entries {
		fields := e.ContextMap()
		assert.Equal(t, res.LastTrain.Metrics[h].Accuracy, fields["train_accuracy"])
		assert.Equal(t, res.Last.Metrics[h].Accuracy, fields["accuracy"])
		assert.Contains(t, fields, "f1")
	}
}
