package ml

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatasetBatching(t *testing.T) {
	ds := &Dataset{}
	for i := 0; i < 7; i++ {
		ds.Docs = append(ds.Docs, &Document{Labels: []int{i % 2}})
	}
	assert.Equal(t, 3, ds.NumBatches(3))
	assert.Len(t, ds.Batch(0, 3).Docs, 3)
	assert.Len(t, ds.Batch(2, 3).Docs, 1, "last batch is partial")
	assert.Equal(t, [][]int{{0, 1, 0}}, ds.Batch(0, 3).Labels(1))
}

func TestDatasetValidate(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	cfg := smallConfig()

	fresh := func() *Dataset { return randomDataset(rand.New(rand.NewPCG(9, 9)), cfg, 2) }
	require.NoError(t, fresh().Validate(cfg))

	ds := fresh()
	ds.Docs[1].Labels[1] = 3
	assert.ErrorIs(t, ds.Validate(cfg), ErrUnknownLabel)

	ds = fresh()
	ds.Docs[0].Words[2] = ds.Docs[0].Words[2][:4]
	assert.ErrorIs(t, ds.Validate(cfg), ErrShapeMismatch)

	ds = fresh()
	ds.Docs[0].Mask = ds.Docs[0].Mask[:2]
	assert.ErrorIs(t, ds.Validate(cfg), ErrShapeMismatch)

	for _, bad := range []float64{-1, 0.5} {
		ds = fresh()
		ds.Docs[0].Mask[1] = bad
		assert.ErrorIs(t, ds.Validate(cfg), ErrShapeMismatch, "mask %v", bad)
	}

	ds = fresh()
	ds.Docs[0].Words[0][1] = cfg.VocabSize
	assert.ErrorIs(t, ds.Validate(cfg), ErrShapeMismatch)

	ds = fresh()
	ds.Docs[0].Positions[0][1] = cfg.PositionVocab
	assert.ErrorIs(t, ds.Validate(cfg), ErrShapeMismatch)

	ds = fresh()
	ds.Docs[0].Labels = []int{0}
	assert.ErrorIs(t, ds.Validate(cfg), ErrShapeMismatch)

	// the dataset helper itself draws from rng
	assert.NoError(t, randomDataset(rng, cfg, 3).Validate(cfg))
}

func TestShuffleIndicesIsPermutation(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	idx := NewIndexList(20)
	ShuffleIndices(rng, idx)
	seen := make(map[int]bool)
	for _, i := range idx {
		seen[i] = true
	}
	assert.Len(t, seen, 20)
}
