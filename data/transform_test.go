package data

import (
	"strings"
	"testing"

	"github.com/b0tShaman/docgate/ml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testVocab() *Vocab {
	v := NewVocab()
	for _, w := range []string{"the", "cat", "saw", "big", "one"} {
		v.Add(w)
	}
	return v
}

const testDoc = "The cat saw the big cat. one two three four five six seven eight."

func TestSplitDoc2SenLayout(t *testing.T) {
	opts := SplitOptions{MaxSentences: 3, MaxWords: 6, Padding: 1}
	d, err := SplitDoc2Sen(testDoc, testVocab(), opts)
	require.NoError(t, err)

	assert.Equal(t, 8, opts.SentenceLen())
	assert.Equal(t, [][]int{
		{0, 2, 3, 4, 2, 5, 3, 0},
		{0, 6, 1, 1, 1, 1, 1, 0},
		{0, 0, 0, 0, 0, 0, 0, 0},
	}, d.Words)
	assert.Equal(t, [][]int{
		{1, 1, 1, 1, 1, 1, 1, 1},
		{2, 2, 2, 2, 2, 2, 2, 2},
		{0, 0, 0, 0, 0, 0, 0, 0},
	}, d.Positions)
	assert.Equal(t, [][]int{
		{0, 2, 2, 1, 2, 1, 2, 0},
		{0, 1, 5, 5, 5, 5, 5, 0},
		{0, 0, 0, 0, 0, 0, 0, 0},
	}, d.Freqs)
	assert.Equal(t, []float64{1, 1, 0}, d.Mask)
}

func TestSplitDoc2SenTruncatesSentences(t *testing.T) {
	opts := SplitOptions{MaxSentences: 1, MaxWords: 6, Padding: 0}
	d, err := SplitDoc2Sen(testDoc, testVocab(), opts)
	require.NoError(t, err)
	require.Len(t, d.Words, 1)
	assert.Equal(t, []int{2, 3, 4, 2, 5, 3}, d.Words[0])
	assert.Equal(t, []float64{1}, d.Mask)
}

func TestSplitDoc2SenJSON(t *testing.T) {
	row := strings.TrimSpace(strings.Repeat("the ", 10))
	doc := `["` + row + `", "` + row + `", "THE"]`
	opts := SplitOptions{DataType: "json", MaxSentences: 4, MaxWords: 10, Padding: 2}

	d, err := SplitDoc2Sen(doc, testVocab(), opts)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1, 0}, d.Mask, "json sentences are not length filtered")
	assert.Equal(t, MaxFreqID, d.Freqs[0][2], "frequency is capped")
	assert.Equal(t, 2, d.Words[2][2], "json sentences are lower-cased")
	assert.Zero(t, d.Freqs[2][3])

	_, err = SplitDoc2Sen(`["unterminated`, testVocab(), opts)
	assert.Error(t, err)

	opts.DataType = "xml"
	_, err = SplitDoc2Sen(doc, testVocab(), opts)
	assert.Error(t, err)
}

func TestTransformDataset(t *testing.T) {
	opts := SplitOptions{MaxSentences: 3, MaxWords: 6, Padding: 1}
	docs := []string{testDoc, "nothing long enough"}
	labels := [][]int{{1, 0}, {2, 1}}

	ds, err := TransformDataset(docs, labels, testVocab(), opts)
	require.NoError(t, err)
	require.Equal(t, 2, ds.Len())
	assert.Equal(t, []int{1, 2}, ds.Docs[0].Labels)
	assert.Equal(t, []int{0, 1}, ds.Docs[1].Labels)
	assert.Equal(t, []float64{0, 0, 0}, ds.Docs[1].Mask)

	cfg := ml.ModelConfig{
		VocabSize:     testVocab().Size(),
		WordDim:       2,
		SymDim:        1,
		FreqVocab:     MaxFreqID + 1,
		PositionVocab: opts.MaxSentences + 1,
		MaxSentences:  opts.MaxSentences,
		SentenceLen:   opts.SentenceLen(),
		Heads:         []ml.HeadConfig{{Name: "a", Classes: 2}, {Name: "b", Classes: 3}},
	}
	assert.NoError(t, ds.Validate(cfg))
}
