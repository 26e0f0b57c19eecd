package data

import (
	"bufio"
	"fmt"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"github.com/b0tShaman/docgate/ml"
	"github.com/pkg/errors"
)

// ClassDict maps label strings of one task to class ids (line order).
type ClassDict struct {
	Name    string
	ToID    map[string]int
	Classes []string
}

// LoadLines reads a file into trimmed lines, keeping empty ones so that
// documents and labels stay aligned.
func LoadLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return lines, nil
}

// LoadClassDict reads one class label per line.
func LoadClassDict(name, path string) (*ClassDict, error) {
	lines, err := LoadLines(path)
	if err != nil {
		return nil, err
	}
	d := &ClassDict{Name: name, ToID: make(map[string]int)}
	for _, l := range lines {
		if l == "" {
			continue
		}
		if _, dup := d.ToID[l]; dup {
			return nil, errors.Errorf("%s: duplicate class %q", path, l)
		}
		d.ToID[l] = len(d.Classes)
		d.Classes = append(d.Classes, l)
	}
	if len(d.Classes) < 2 {
		return nil, errors.Errorf("%s: need at least two classes", path)
	}
	return d, nil
}

// Encode maps labels to ids, failing on the first label outside the dictionary.
func (d *ClassDict) Encode(labels []string) ([]int, error) {
	ids := make([]int, len(labels))
	for i, l := range labels {
		id, ok := d.ToID[l]
		if !ok {
			return nil, errors.Wrapf(ml.ErrUnknownLabel, "task %s line %d: %q", d.Name, i+1, l)
		}
		ids[i] = id
	}
	return ids, nil
}

// LoadWordVectors reads a text embedding file ("word v1 ... vd" per line,
// optional "count dim" header). The returned vocabulary starts with PAD and
// UNK: the pad row is zero and the unknown row is drawn from U(-0.25, 0.25).
func LoadWordVectors(path string, rng *rand.Rand) (*Vocab, *ml.Matrix, error) {
	lines, err := LoadLines(path)
	if err != nil {
		return nil, nil, err
	}
	if len(lines) > 0 {
		if f := strings.Fields(lines[0]); len(f) == 2 {
			if _, err := strconv.Atoi(f[0]); err == nil {
				lines = lines[1:]
			}
		}
	}

	vocab := NewVocab()
	var rows [][]float64
	dim := -1
	for n, l := range lines {
		fields := strings.Fields(l)
		if len(fields) == 0 {
			continue
		}
		if dim < 0 {
			dim = len(fields) - 1
		}
		if len(fields)-1 != dim || dim == 0 {
			return nil, nil, errors.Wrapf(ml.ErrShapeMismatch, "%s line %d: %d values, want %d", path, n+1, len(fields)-1, dim)
		}
		if _, seen := vocab.WordToID[fields[0]]; seen {
			continue
		}
		vec := make([]float64, dim)
		for i, s := range fields[1:] {
			if vec[i], err = strconv.ParseFloat(s, 64); err != nil {
				return nil, nil, errors.Wrapf(err, "%s line %d", path, n+1)
			}
		}
		vocab.Add(fields[0])
		rows = append(rows, vec)
	}
	if dim <= 0 {
		return nil, nil, errors.Errorf("%s: no vectors", path)
	}

	m := ml.NewMatrix(vocab.Size(), dim)
	for j := 0; j < dim; j++ {
		m.Set(ml.UnknownID, j, (rng.Float64()*2-1)*0.25)
	}
	for i, vec := range rows {
		copy(m.Row(i+2), vec)
	}
	return vocab, m, nil
}

// Corpus is one split of the raw data: documents and per-task label ids.
type Corpus struct {
	Docs   []string
	Labels [][]int // [task][doc]
}

// LoadCorpus reads <prefix>_<group>.txt.tok and one <prefix>_<group>.<suffix>
// label file per task.
func LoadCorpus(prefix, group string, tasks []ml.TaskConfig, dicts []*ClassDict) (*Corpus, error) {
	docs, err := LoadLines(fmt.Sprintf("%s_%s.txt.tok", prefix, group))
	if err != nil {
		return nil, err
	}
	c := &Corpus{Docs: docs, Labels: make([][]int, len(tasks))}
	for i, task := range tasks {
		path := fmt.Sprintf("%s_%s.%s", prefix, group, task.Suffix)
		raw, err := LoadLines(path)
		if err != nil {
			return nil, err
		}
		if len(raw) != len(docs) {
			return nil, errors.Wrapf(ml.ErrShapeMismatch, "%s: %d labels for %d documents", path, len(raw), len(docs))
		}
		if c.Labels[i], err = dicts[i].Encode(raw); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// LoadTasks reads the class dictionary of every task.
func LoadTasks(tasks []ml.TaskConfig) ([]*ClassDict, error) {
	dicts := make([]*ClassDict, len(tasks))
	for i, t := range tasks {
		d, err := LoadClassDict(t.Name, t.Dict)
		if err != nil {
			return nil, err
		}
		dicts[i] = d
	}
	return dicts, nil
}

// MatchHeads checks that dicts line up with the heads of a model.
func MatchHeads(dicts []*ClassDict, heads []ml.HeadConfig) error {
	if len(dicts) != len(heads) {
		return errors.Wrapf(ml.ErrShapeMismatch, "%d class dictionaries for %d heads", len(dicts), len(heads))
	}
	for i, d := range dicts {
		if d.Name != heads[i].Name || len(d.Classes) != heads[i].Classes {
			return errors.Wrapf(ml.ErrShapeMismatch, "task %s has %d classes, head %s expects %d",
				d.Name, len(d.Classes), heads[i].Name, heads[i].Classes)
		}
	}
	return nil
}
