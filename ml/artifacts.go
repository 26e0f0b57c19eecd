package ml

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

// ArtifactSink receives everything the training driver persists.
type ArtifactSink interface {
	WritePredictions(epoch int, head string, preds []int) error
	WriteScores(epoch int, scores [][]float64) error
	SaveCheckpoint(epoch int, model *Model) error
}

// FileSink lays artifacts out on disk as
//
//	<PredDir>/<exp>_<epoch>.<head>_pred
//	<ResultDir>/<exp>_<epoch>_test.score
//	<ModelDir>/<exp>_<epoch>.ckpt
type FileSink struct {
	ExpName   string
	PredDir   string
	ResultDir string
	ModelDir  string
}

func NewFileSink(cfg DataConfig) (*FileSink, error) {
	s := &FileSink{
		ExpName:   cfg.ExpName,
		PredDir:   cfg.PredDir,
		ResultDir: cfg.ResultDir,
		ModelDir:  cfg.ModelDir,
	}
	for _, dir := range []string{s.PredDir, s.ResultDir, s.ModelDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "creating %s", dir)
		}
	}
	return s, nil
}

func (s *FileSink) PredictionPath(epoch int, head string) string {
	return filepath.Join(s.PredDir, fmt.Sprintf("%s_%d.%s_pred", s.ExpName, epoch, head))
}

func (s *FileSink) ScorePath(epoch int) string {
	return filepath.Join(s.ResultDir, fmt.Sprintf("%s_%d_test.score", s.ExpName, epoch))
}

func (s *FileSink) CheckpointPath(epoch int) string {
	return filepath.Join(s.ModelDir, fmt.Sprintf("%s_%d.ckpt", s.ExpName, epoch))
}

// WritePredictions writes one predicted class index per line.
func (s *FileSink) WritePredictions(epoch int, head string, preds []int) error {
	return writeLines(s.PredictionPath(epoch, head), len(preds), func(w *bufio.Writer, i int) {
		w.WriteString(strconv.Itoa(preds[i]))
	})
}

// WriteScores writes the gate scores of one document per line.
func (s *FileSink) WriteScores(epoch int, scores [][]float64) error {
	return writeLines(s.ScorePath(epoch), len(scores), func(w *bufio.Writer, i int) {
		for j, v := range scores[i] {
			if j > 0 {
				w.WriteByte(' ')
			}
			w.WriteString(strconv.FormatFloat(v, 'f', 6, 64))
		}
	})
}

func (s *FileSink) SaveCheckpoint(epoch int, model *Model) error {
	return model.SaveToFile(s.CheckpointPath(epoch))
}

func writeLines(path string, n int, line func(w *bufio.Writer, i int)) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	w := bufio.NewWriter(file)
	for i := 0; i < n; i++ {
		line(w, i)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	return file.Close()
}
