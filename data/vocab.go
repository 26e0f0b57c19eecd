package data

import (
	"github.com/b0tShaman/docgate/ml"
)

const (
	// Default tokens
	PAD = "<pad>"
	UNK = "<unk>"
)

// Vocab maps words to embedding rows. Row 0 is PAD and row 1 is UNK.
type Vocab struct {
	WordToID map[string]int
	IDToWord []string
}

func NewVocab() *Vocab {
	return &Vocab{
		WordToID: map[string]int{PAD: ml.PadID, UNK: ml.UnknownID},
		IDToWord: []string{PAD, UNK},
	}
}

// Add returns the id of w, assigning the next free id when w is new.
func (v *Vocab) Add(w string) int {
	if id, ok := v.WordToID[w]; ok {
		return id
	}
	id := len(v.IDToWord)
	v.WordToID[w] = id
	v.IDToWord = append(v.IDToWord, w)
	return id
}

// ID returns the id of w, or UnknownID for out-of-vocabulary words.
func (v *Vocab) ID(w string) int {
	if id, ok := v.WordToID[w]; ok {
		return id
	}
	return ml.UnknownID
}

func (v *Vocab) Size() int { return len(v.IDToWord) }

// BuildVocab collects every token of docs seen at least freqThreshold times.
func BuildVocab(docs []string, dataType string, freqThreshold int) (*Vocab, error) {
	freq := make(map[string]int)
	var order []string
	for _, doc := range docs {
		sens, err := splitDoc(doc, dataType)
		if err != nil {
			return nil, err
		}
		for _, sen := range sens {
			for _, w := range Tokenize(sen) {
				if freq[w] == 0 {
					order = append(order, w)
				}
				freq[w]++
			}
		}
	}

	v := NewVocab()
	for _, w := range order {
		if freq[w] >= freqThreshold {
			v.Add(w)
		}
	}
	return v, nil
}
