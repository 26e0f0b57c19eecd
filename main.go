package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	arg "github.com/alexflint/go-arg"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/b0tShaman/docgate/data"
	"github.com/b0tShaman/docgate/ml"
)

type args struct {
	Config   string  `arg:"--config,required" help:"experiment JSON config"`
	Prefix   string  `help:"corpus prefix, e.g. data/spanish_protest"`
	Word2Vec string  `arg:"--word2vec" help:"text embedding file"`
	ExpName  string  `arg:"--exp-name"`
	Log      string  `help:"log file (stdout only when empty)"`
	MaxIter  *int    `arg:"--max-iter"`
	TopK     *int    `arg:"--top-k"`
	Batch    *int    `arg:"--batch-size"`
	Seed     *uint64 `help:"random seed"`
	Static   bool    `help:"keep word vectors fixed"`
	Init     string  `help:"checkpoint to warm-start from"`
	Predict  string  `help:"checkpoint to load for interactive classification"`
}

func (args) Description() string {
	return "trains a sentence-gated document classifier"
}

// -------- MAIN -------- //
func main() {
	var a args
	arg.MustParse(&a)

	if err := run(a); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(a args) error {
	cfg, err := ml.LoadConfig(a.Config)
	if err != nil {
		return err
	}
	applyOverrides(&cfg, a)

	logger, err := newLogger(cfg.Data.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync()

	rng := rand.New(rand.NewPCG(cfg.Training.Seed, cfg.Training.Seed+1))

	// 1. Load Data
	logger.Info("loading dataset", zap.String("prefix", cfg.Data.Prefix))
	dicts, err := data.LoadTasks(cfg.Data.Tasks)
	if err != nil {
		return err
	}
	split := data.SplitOptions{
		DataType:     cfg.Data.DataType,
		MaxSentences: cfg.Model.MaxSentences,
		MaxWords:     cfg.Data.MaxWords,
		Padding:      cfg.Data.Padding,
	}

	if a.Predict != "" {
		return predict(a.Predict, cfg, dicts, split, rng, logger)
	}

	train, err := data.LoadCorpus(cfg.Data.Prefix, "train", cfg.Data.Tasks, dicts)
	if err != nil {
		return err
	}
	test, err := data.LoadCorpus(cfg.Data.Prefix, "test", cfg.Data.Tasks, dicts)
	if err != nil {
		return err
	}
	var valid *data.Corpus
	if cfg.Training.TrainOnValid {
		if valid, err = data.LoadCorpus(cfg.Data.Prefix, "valid", cfg.Data.Tasks, dicts); err != nil {
			return err
		}
	}

	vocab, vectors, err := loadVocab(cfg, train, rng)
	if err != nil {
		return err
	}
	completeModelConfig(&cfg, vocab, vectors, dicts, split)
	if err := cfg.Validate(); err != nil {
		return err
	}

	trainSet, err := data.TransformDataset(train.Docs, train.Labels, vocab, split)
	if err != nil {
		return errors.Wrap(err, "train set")
	}
	testSet, err := data.TransformDataset(test.Docs, test.Labels, vocab, split)
	if err != nil {
		return errors.Wrap(err, "test set")
	}
	splits := ml.Splits{Train: trainSet, Test: testSet}
	if valid != nil {
		if splits.Valid, err = data.TransformDataset(valid.Docs, valid.Labels, vocab, split); err != nil {
			return errors.Wrap(err, "valid set")
		}
	}
	logger.Info("dataset ready",
		zap.Int("vocab", vocab.Size()),
		zap.Int("train_docs", trainSet.Len()),
		zap.Int("test_docs", testSet.Len()),
		zap.Bool("train_on_valid", splits.Valid != nil),
	)

	// 2. Initialize Model
	model, err := ml.NewModel(cfg.Model, vectors, rng)
	if err != nil {
		return err
	}
	if a.Init != "" {
		if err := model.LoadFromFile(a.Init); err != nil {
			logger.Warn("model mismatch, training from scratch", zap.Error(err))
		}
	}

	// 3. Configure & Train
	if cfg.Training.NumWorkers == 0 {
		cfg.Training.NumWorkers = runtime.GOMAXPROCS(0)
	}
	sink, err := ml.NewFileSink(cfg.Data)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tc := &ml.TrainingContext{RNG: rng, Log: logger, Sink: sink}
	res, err := ml.Train(ctx, model, splits, cfg.Training, tc)
	if errors.Is(err, ml.ErrInterrupted) {
		logger.Warn("training interrupted", zap.Int("epochs", res.Epochs))
		return nil
	}
	if err != nil {
		logger.Error("training failed", zap.Error(err))
		return err
	}
	logger.Info("done", zap.Int("epochs", res.Epochs), zap.Int("best_epoch", res.BestEpoch),
		zap.Float64("best_score", res.BestScore))
	return nil
}

func applyOverrides(cfg *ml.Config, a args) {
	if a.Prefix != "" {
		cfg.Data.Prefix = a.Prefix
	}
	if a.Word2Vec != "" {
		cfg.Data.Word2Vec = a.Word2Vec
	}
	if a.ExpName != "" {
		cfg.Data.ExpName = a.ExpName
	}
	if a.Log != "" {
		cfg.Data.LogFile = a.Log
	}
	if a.MaxIter != nil {
		cfg.Training.MaxIteration = *a.MaxIter
	}
	if a.TopK != nil {
		cfg.Model.TopK = *a.TopK
	}
	if a.Batch != nil {
		cfg.Training.BatchSize = *a.Batch
	}
	if a.Seed != nil {
		cfg.Training.Seed = *a.Seed
	}
	if a.Static {
		cfg.Model.Static = true
	}
}

// loadVocab reads pretrained vectors, or builds a vocabulary from the
// training corpus when none are configured.
func loadVocab(cfg ml.Config, train *data.Corpus, rng *rand.Rand) (*data.Vocab, *ml.Matrix, error) {
	if cfg.Data.Word2Vec != "" {
		return data.LoadWordVectors(cfg.Data.Word2Vec, rng)
	}
	vocab, err := data.BuildVocab(train.Docs, cfg.Data.DataType, 1)
	if err != nil {
		return nil, nil, err
	}
	return vocab, nil, nil
}

// completeModelConfig fills the topology fields that depend on the data.
func completeModelConfig(cfg *ml.Config, vocab *data.Vocab, vectors *ml.Matrix, dicts []*data.ClassDict, split data.SplitOptions) {
	cfg.Model.VocabSize = vocab.Size()
	if vectors != nil {
		cfg.Model.WordDim = vectors.Cols()
	}
	cfg.Model.SentenceLen = split.SentenceLen()
	cfg.Model.FreqVocab = data.MaxFreqID + 1
	cfg.Model.PositionVocab = cfg.Model.MaxSentences + 1
	cfg.Model.Heads = make([]ml.HeadConfig, len(dicts))
	for i, d := range dicts {
		cfg.Model.Heads[i] = ml.HeadConfig{Name: d.Name, Classes: len(d.Classes), Weight: cfg.Data.Tasks[i].Weight}
	}
}

func predict(path string, cfg ml.Config, dicts []*data.ClassDict, split data.SplitOptions, rng *rand.Rand, logger *zap.Logger) error {
	model, err := ml.LoadModel(path)
	if err != nil {
		return err
	}
	var vocab *data.Vocab
	if cfg.Data.Word2Vec != "" {
		if vocab, _, err = data.LoadWordVectors(cfg.Data.Word2Vec, rng); err != nil {
			return err
		}
	} else {
		train, err := data.LoadCorpus(cfg.Data.Prefix, "train", cfg.Data.Tasks, dicts)
		if err != nil {
			return err
		}
		if vocab, err = data.BuildVocab(train.Docs, cfg.Data.DataType, 1); err != nil {
			return err
		}
	}
	if vocab.Size() != model.Config.VocabSize {
		return errors.Wrapf(ml.ErrShapeMismatch, "vocabulary has %d words, model expects %d", vocab.Size(), model.Config.VocabSize)
	}
	if err := data.MatchHeads(dicts, model.Config.Heads); err != nil {
		return err
	}
	split.MaxSentences = model.Config.MaxSentences
	logger.Info("model loaded", zap.String("path", path))

	return data.ClassifyText(os.Stdin, os.Stdout, model, data.InferenceConfig{
		Vocab:        vocab,
		Split:        split,
		Tasks:        dicts,
		TopSentences: 3,
	})
}

// newLogger tees info to stdout, errors to stderr and everything to path
// when set.
func newLogger(path string) (*zap.Logger, error) {
	isErrorLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel
	})
	isInfoLevel := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl < zapcore.ErrorLevel
	})

	config := zap.NewProductionEncoderConfig()
	config.EncodeTime = zapcore.RFC3339TimeEncoder
	encoder := zapcore.NewConsoleEncoder(config)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), isErrorLevel),
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), isInfoLevel),
	}
	if path != "" {
		file, err := os.Create(path)
		if err != nil {
			return nil, errors.Wrap(err, "creating log file")
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(file), zapcore.DebugLevel))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}
