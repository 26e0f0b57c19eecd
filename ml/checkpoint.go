package ml

import (
	"encoding/gob"
	"io"
	"math/rand/v2"
	"os"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// paramData is the persisted form of one Param.
type paramData struct {
	Name  string
	Shape []int
	Value *Matrix
}

type modelData struct {
	Config ModelConfig
	Params []paramData
}

// Save writes the config and every parameter value as a snappy-compressed
// gob stream.
func (m *Model) Save(w io.Writer) error {
	params := m.Params()
	data := modelData{Config: m.Config, Params: make([]paramData, len(params))}
	for i, p := range params {
		data.Params[i] = paramData{Name: p.Name, Shape: p.Shape, Value: p.Value}
	}

	comp := snappy.NewBufferedWriter(w)
	if err := gob.NewEncoder(comp).Encode(data); err != nil {
		return errors.Wrap(err, "encoding model")
	}
	return errors.Wrap(comp.Close(), "flushing model")
}

func (m *Model) SaveToFile(filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(err, "creating checkpoint")
	}
	if err := m.Save(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func decodeModel(r io.Reader) (modelData, error) {
	var data modelData
	if err := gob.NewDecoder(snappy.NewReader(r)).Decode(&data); err != nil {
		return data, errors.Wrap(err, "failed to decode checkpoint")
	}
	return data, nil
}

// Load overwrites the parameters of m from a checkpoint stream. Nothing is
// written unless every parameter matches by name and shape.
func (m *Model) Load(r io.Reader) error {
	data, err := decodeModel(r)
	if err != nil {
		return err
	}
	return m.apply(data)
}

func (m *Model) LoadFromFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return errors.Wrap(err, "opening checkpoint")
	}
	defer file.Close()
	return m.Load(file)
}

func (m *Model) apply(data modelData) error {
	params := m.Params()

	// --- VALIDATION STEP ---
	if len(params) != len(data.Params) {
		return errors.Wrapf(ErrShapeMismatch, "architecture mismatch: model has %d params, checkpoint has %d",
			len(params), len(data.Params))
	}
	checkDims := func(curr *Param, loaded paramData) error {
		if curr.Name != loaded.Name {
			return errors.Wrapf(ErrShapeMismatch, "param %s mismatch: checkpoint holds %s", curr.Name, loaded.Name)
		}
		if loaded.Value == nil {
			return errors.Wrapf(ErrShapeMismatch, "param %s missing from checkpoint", curr.Name)
		}
		if curr.Value.rows != loaded.Value.rows || curr.Value.cols != loaded.Value.cols {
			return errors.Wrapf(ErrShapeMismatch, "param %s shape mismatch: expected [%d, %d], got [%d, %d]",
				curr.Name, curr.Value.rows, curr.Value.cols, loaded.Value.rows, loaded.Value.cols)
		}
		return nil
	}
	for i, p := range params {
		if err := checkDims(p, data.Params[i]); err != nil {
			return err
		}
	}

	// --- APPLICATION STEP ---
	for i, p := range params {
		copy(p.Value.data, data.Params[i].Value.data)
	}
	return nil
}

// LoadModel rebuilds a model from the config stored in a checkpoint.
func LoadModel(filename string) (*Model, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(err, "opening checkpoint")
	}
	defer file.Close()

	data, err := decodeModel(file)
	if err != nil {
		return nil, err
	}
	m, err := NewModel(data.Config, nil, rand.New(rand.NewPCG(0, 0)))
	if err != nil {
		return nil, errors.Wrap(err, "checkpoint config")
	}
	if err := m.apply(data); err != nil {
		return nil, err
	}
	return m, nil
}
