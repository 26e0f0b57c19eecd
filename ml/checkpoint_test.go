package ml

import (
	"bytes"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckpointRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	cfg := smallConfig()
	m, err := NewModel(cfg, nil, rng)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "m.ckpt")
	require.NoError(t, m.SaveToFile(path))

	loaded, err := LoadModel(path)
	require.NoError(t, err)
	assert.Equal(t, m.Config, loaded.Config)

	batch := &Batch{Docs: randomDataset(rng, cfg, 4).Docs}
	want := m.Forward(batch, false, nil)
	got := loaded.Forward(batch, false, nil)
	for h := range want.Probs {
		assert.Equal(t, want.Probs[h].Data(), got.Probs[h].Data())
	}
	assert.Equal(t, want.Scores().Data(), got.Scores().Data())
}

func TestCheckpointLoadIntoExistingModel(t *testing.T) {
	rng := rand.New(rand.NewPCG(2, 2))
	a, err := NewModel(smallConfig(), nil, rng)
	require.NoError(t, err)
	b, err := NewModel(smallConfig(), nil, rng)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, a.Save(&buf))
	require.NoError(t, b.Load(&buf))

	pa, pb := a.Params(), b.Params()
	for i := range pa {
		assert.Equal(t, pa[i].Value.Data(), pb[i].Value.Data(), pa[i].Name)
	}
}

func TestCheckpointRejectsShapeMismatch(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 3))
	a, err := NewModel(smallConfig(), nil, rng)
	require.NoError(t, err)

	cfg := smallConfig()
	cfg.Maps = 4
	b, err := NewModel(cfg, nil, rng)
	require.NoError(t, err)
	before := append([]float64(nil), b.Words.Table.Value.Data()...)

	var buf bytes.Buffer
	require.NoError(t, a.Save(&buf))
	err = b.Load(&buf)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	assert.Equal(t, before, b.Words.Table.Value.Data(), "nothing is written on mismatch")

	cfg = smallConfig()
	cfg.GateMode = GateConcat
	c, err := NewModel(cfg, nil, rng)
	require.NoError(t, err)
	buf.Reset()
	require.NoError(t, a.Save(&buf))
	assert.ErrorIs(t, c.Load(&buf), ErrShapeMismatch)
}

func TestCheckpointRejectsGarbage(t *testing.T) {
	rng := rand.New(rand.NewPCG(4, 4))
	m, err := NewModel(smallConfig(), nil, rng)
	require.NoError(t, err)
	assert.Error(t, m.Load(bytes.NewBufferString("not a checkpoint")))
}
