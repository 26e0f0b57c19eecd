package ml

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Config is the full experiment description loaded from a JSON file.
type Config struct {
	Model    ModelConfig    `json:"model"`
	Training TrainingConfig `json:"training"`
	Data     DataConfig     `json:"data"`
}

type TrainingConfig struct {
	BatchSize       int    `json:"batch_size"`
	MaxIteration    int    `json:"max_iteration"`
	PrintFreq       int    `json:"print_freq"`       // evaluate every N epochs
	CheckpointEvery int    `json:"checkpoint_every"` // 0 saves only on improvement
	Patience        int    `json:"patience"`         // evaluations without improvement; 0 disables
	NumWorkers      int    `json:"num_workers"`      // evaluation workers
	Seed            uint64 `json:"seed"`

	// TrainOnValid runs a second pass of updates over the validation split
	// after the training batches of every epoch.
	TrainOnValid bool `json:"train_on_valid"`

	// Optimizer Selection
	Optimizer OptimizerType `json:"optimizer"`

	// Optimizer Hyperparameters (Zero values will use defaults)
	Rho          float64 `json:"rho"`
	Epsilon      float64 `json:"epsilon"`
	NormLim      float64 `json:"norm_lim"`
	LearningRate float64 `json:"learning_rate"` // sgd only

	// Objective
	ScorePenalty float64 `json:"score_penalty"`
	L1           float64 `json:"l1"`
	L2           float64 `json:"l2"`

	// MonitorHead names the head whose accuracy selects the best model.
	// Empty means the first head.
	MonitorHead string `json:"monitor_head"`
}

func (c TrainingConfig) Objective() Objective {
	return Objective{ScorePenalty: c.ScorePenalty, L1: c.L1, L2: c.L2}
}

// TaskConfig binds one classifier head to its label dictionary and the
// label files of the corpus.
type TaskConfig struct {
	Name   string  `json:"name"`
	Dict   string  `json:"dict"`
	Suffix string  `json:"suffix"`
	Weight float64 `json:"weight"`
}

type DataConfig struct {
	Prefix    string       `json:"prefix"`
	Word2Vec  string       `json:"word2vec"`
	DataType  string       `json:"data_type"` // "str" or "json"
	MaxWords  int          `json:"max_words"`
	Padding   int          `json:"padding"`
	Tasks     []TaskConfig `json:"tasks"`
	ExpName   string       `json:"exp_name"`
	PredDir   string       `json:"pred_dir"`
	ResultDir string       `json:"result_dir"`
	ModelDir  string       `json:"model_dir"`
	LogFile   string       `json:"log_file"`
}

func DefaultConfig() Config {
	return Config{
		Model: ModelConfig{
			WordDim:          300,
			SymDim:           0,
			FreqVocab:        21,
			MaxSentences:     30,
			FilterWidths:     []int{3, 4, 5},
			Maps:             100,
			Activation:       "relu",
			GateMode:         GatePerFilter,
			TopK:             5,
			HiddenUnits:      nil,
			HiddenActivation: "relu",
			Dropout:          []float64{0.5},
		},
		Training: TrainingConfig{
			BatchSize:    50,
			MaxIteration: 25,
			PrintFreq:    1,
			NumWorkers:   4,
			Seed:         1234,
			Optimizer:    OptAdaDelta,
			Rho:          DefaultAdaDeltaConfig.Rho,
			Epsilon:      DefaultAdaDeltaConfig.Epsilon,
			NormLim:      DefaultAdaDeltaConfig.NormLim,
		},
		Data: DataConfig{
			DataType:  "str",
			MaxWords:  50,
			Padding:   4,
			ExpName:   "docgate",
			PredDir:   "pred",
			ResultDir: "results",
			ModelDir:  "models",
		},
	}
}

// LoadConfig reads a JSON config on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "reading config")
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(ErrConfig, "decoding %s: %v", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if err := c.Model.Validate(); err != nil {
		return err
	}
	return c.Training.Validate()
}

func (c ModelConfig) Validate() error {
	switch {
	case c.VocabSize < 2:
		return configErrorf("vocab_size %d must cover pad and unknown", c.VocabSize)
	case c.WordDim < 1:
		return configErrorf("word_dim must be positive")
	case c.SymDim < 0:
		return configErrorf("sym_dim must not be negative")
	case c.SymDim > 0 && (c.FreqVocab < 1 || c.PositionVocab < 1):
		return configErrorf("freq_vocab and position_vocab required with sym_dim")
	case c.MaxSentences < 1:
		return configErrorf("max_sentences must be positive")
	case len(c.FilterWidths) == 0:
		return configErrorf("filter_hs must not be empty")
	case c.Maps < 1:
		return configErrorf("num_maps must be positive")
	case c.TopK < 0:
		return configErrorf("top_k must not be negative")
	case len(c.Heads) == 0:
		return configErrorf("at least one head is required")
	case c.WordDropout < 0 || c.WordDropout >= 1:
		return configErrorf("word_dropout %v out of [0, 1)", c.WordDropout)
	}
	for _, h := range c.FilterWidths {
		if h < 1 || h > c.SentenceLen {
			return configErrorf("filter width %d does not fit sentence_len %d", h, c.SentenceLen)
		}
	}
	for _, p := range c.Dropout {
		if p < 0 || p >= 1 {
			return configErrorf("dropout rate %v out of [0, 1)", p)
		}
	}
	for _, u := range c.HiddenUnits {
		if u < 1 {
			return configErrorf("hidden layer sizes must be positive")
		}
	}
	names := make(map[string]bool, len(c.Heads))
	for _, h := range c.Heads {
		if h.Classes < 2 {
			return configErrorf("head %q needs at least two classes", h.Name)
		}
		if names[h.Name] {
			return configErrorf("duplicate head name %q", h.Name)
		}
		names[h.Name] = true
	}
	if c.GateMode != GatePerFilter && c.GateMode != GateConcat {
		return configErrorf("unknown gate_mode %q", c.GateMode)
	}
	if _, ok := activationMap[c.Activation]; !ok {
		return configErrorf("unknown activation %q", c.Activation)
	}
	if _, ok := activationMap[c.HiddenActivation]; !ok {
		return configErrorf("unknown hidden_activation %q", c.HiddenActivation)
	}
	return nil
}

func (c TrainingConfig) Validate() error {
	switch {
	case c.BatchSize < 1:
		return configErrorf("batch_size must be positive")
	case c.MaxIteration < 1:
		return configErrorf("max_iteration must be positive")
	case c.PrintFreq < 1:
		return configErrorf("print_freq must be positive")
	case c.CheckpointEvery < 0, c.Patience < 0:
		return configErrorf("checkpoint_every and patience must not be negative")
	case c.Optimizer != OptAdaDelta && c.Optimizer != OptSGD:
		return configErrorf("unknown optimizer %q", c.Optimizer)
	case c.Optimizer == OptSGD && c.LearningRate <= 0:
		return configErrorf("sgd requires a positive learning_rate")
	case c.Rho < 0 || c.Rho >= 1:
		return configErrorf("rho %v out of [0, 1)", c.Rho)
	case c.Epsilon < 0:
		return configErrorf("epsilon must not be negative")
	case c.ScorePenalty < 0 || c.L1 < 0 || c.L2 < 0:
		return configErrorf("penalty weights must not be negative")
	}
	return nil
}
