package dataset

import (
	"github.com/pkg/errors"
	"github.com/sw965/omw/encoding/gobx"
	"golang.org/x/exp/maps"
	"slices"
	"strings"
)

const (
	PadToken = "[PAD]"
	ClsToken = "[CLS]"
	UnkToken = "[UNK]"
)

const (
	PadID = iota
	ClsID
	UnkID
)

// Tokenizer は空白区切りの単語単位トークナイザー。先頭には常に [CLS] が付く。
type Tokenizer struct {
	Vocab     map[string]int
	MaxSeqLen int
}

func Fields(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// NewTokenizer builds a vocabulary from texts, keeping words seen at least
// minFreq times. IDs are assigned by descending frequency, ties broken
// alphabetically, after the special tokens.
func NewTokenizer(texts []string, maxSeqLen, minFreq int) *Tokenizer {
	counts := map[string]int{}
	for _, text := range texts {
		for _, w := range Fields(text) {
			counts[w]++
		}
	}

	words := maps.Keys(counts)
	words = slices.DeleteFunc(words, func(w string) bool {
		return counts[w] < minFreq
	})
	slices.SortFunc(words, func(a, b string) int {
		if counts[a] != counts[b] {
			return counts[b] - counts[a]
		}
		return strings.Compare(a, b)
	})

	vocab := map[string]int{PadToken: PadID, ClsToken: ClsID, UnkToken: UnkID}
	for _, w := range words {
		if _, ok := vocab[w]; !ok {
			vocab[w] = len(vocab)
		}
	}
	return &Tokenizer{Vocab: vocab, MaxSeqLen: maxSeqLen}
}

func (t *Tokenizer) VocabSize() int {
	return len(t.Vocab)
}

// Encode は MaxSeqLen に切り詰め、足りない分を [PAD] で埋める。
func (t *Tokenizer) Encode(text string) ([]int, []int) {
	ids := make([]int, t.MaxSeqLen)
	mask := make([]int, t.MaxSeqLen)
	if t.MaxSeqLen == 0 {
		return ids, mask
	}

	ids[0] = ClsID
	mask[0] = 1
	pos := 1
	for _, w := range Fields(text) {
		if pos == t.MaxSeqLen {
			break
		}
		id, ok := t.Vocab[w]
		if !ok {
			id = UnkID
		}
		ids[pos] = id
		mask[pos] = 1
		pos++
	}
	return ids, mask
}

func (t *Tokenizer) Save(path string) error {
	return gobx.Save(t, path)
}

func LoadTokenizer(path string) (*Tokenizer, error) {
	t, err := gobx.Load[Tokenizer](path)
	if err != nil {
		return nil, errors.Wrapf(err, "dataset: load tokenizer %s", path)
	}
	return &t, nil
}
