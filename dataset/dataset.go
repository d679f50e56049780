package dataset

import (
	"github.com/pkg/errors"
	"github.com/sw965/omw/encoding/gobx"
	"github.com/sw965/omw/slicesx"
	"math"
	"math/rand/v2"
	"slices"
)

var ErrUnknownLabel = errors.New("dataset: unknown label")

// Dataset holds tokenized examples column by column. Labels is nil for a
// dataset without any labels (inference only).
type Dataset struct {
	InputIDs      [][]int
	AttentionMask [][]int
	Labels        []int
	LabelMask     []bool
}

// Encode はラベルを labelList のインデックスへ変換する。空文字列と unlabeledLabel はラベル無しとして扱い、
// label_mask を false にする。labelList が unlabeledLabel を含む場合、ラベル無しの行はそのインデックスを持つ。
func Encode(examples []Example, tok *Tokenizer, labelList []string, unlabeledLabel string) (*Dataset, error) {
	index := make(map[string]int, len(labelList))
	for i, label := range labelList {
		index[label] = i
	}
	reserved := index[unlabeledLabel]

	n := len(examples)
	ds := &Dataset{
		InputIDs:      make([][]int, n),
		AttentionMask: make([][]int, n),
		Labels:        make([]int, n),
		LabelMask:     make([]bool, n),
	}
	for i, e := range examples {
		ds.InputIDs[i], ds.AttentionMask[i] = tok.Encode(e.Text)
		if e.Label == "" || e.Label == unlabeledLabel {
			ds.Labels[i] = reserved
			continue
		}
		label, ok := index[e.Label]
		if !ok {
			return nil, errors.Wrapf(ErrUnknownLabel, "example %d: %q", i, e.Label)
		}
		ds.Labels[i] = label
		ds.LabelMask[i] = true
	}
	return ds, nil
}

// EncodeTexts builds a dataset without labels.
func EncodeTexts(texts []string, tok *Tokenizer) *Dataset {
	ds := &Dataset{
		InputIDs:      make([][]int, len(texts)),
		AttentionMask: make([][]int, len(texts)),
	}
	for i, text := range texts {
		ds.InputIDs[i], ds.AttentionMask[i] = tok.Encode(text)
	}
	return ds
}

func (ds *Dataset) Len() int {
	return len(ds.InputIDs)
}

func (ds *Dataset) LabeledCount() int {
	n := 0
	for _, m := range ds.LabelMask {
		if m {
			n++
		}
	}
	return n
}

// Batch は idxs の順に例を集めたバッチを返す。
func (ds *Dataset) Batch(idxs ...int) (*Batch, error) {
	ids, err := slicesx.ElementsByIndices(ds.InputIDs, idxs...)
	if err != nil {
		return nil, err
	}
	mask, err := slicesx.ElementsByIndices(ds.AttentionMask, idxs...)
	if err != nil {
		return nil, err
	}
	b := &Batch{InputIDs: ids, AttentionMask: mask}
	if ds.Labels == nil {
		return b, nil
	}

	b.Labels, err = slicesx.ElementsByIndices(ds.Labels, idxs...)
	if err != nil {
		return nil, err
	}
	b.LabelMask, err = slicesx.ElementsByIndices(ds.LabelMask, idxs...)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Split shuffles the dataset and cuts it so that the first part holds
// ratio of the examples.
func (ds *Dataset) Split(ratio float64, rng *rand.Rand) (*Dataset, *Dataset, error) {
	if ratio < 0 || ratio > 1 {
		return nil, nil, errors.Errorf("dataset: split ratio %f outside [0, 1]", ratio)
	}
	n := ds.Len()
	idxs := rng.Perm(n)
	cut := int(math.Round(float64(n) * ratio))

	head, err := ds.subset(idxs[:cut])
	if err != nil {
		return nil, nil, err
	}
	tail, err := ds.subset(idxs[cut:])
	if err != nil {
		return nil, nil, err
	}
	return head, tail, nil
}

func (ds *Dataset) subset(idxs []int) (*Dataset, error) {
	b, err := ds.Batch(idxs...)
	if err != nil {
		return nil, err
	}
	return &Dataset{
		InputIDs:      b.InputIDs,
		AttentionMask: b.AttentionMask,
		Labels:        b.Labels,
		LabelMask:     b.LabelMask,
	}, nil
}

// WithoutLabels は同じ入力を共有するラベル無しのコピーを返す。
func (ds *Dataset) WithoutLabels() *Dataset {
	return &Dataset{
		InputIDs:      slices.Clone(ds.InputIDs),
		AttentionMask: slices.Clone(ds.AttentionMask),
	}
}

func (ds *Dataset) Save(path string) error {
	return gobx.Save(ds, path)
}

func Load(path string) (*Dataset, error) {
	ds, err := gobx.Load[Dataset](path)
	if err != nil {
		return nil, errors.Wrapf(err, "dataset: load %s", path)
	}
	return &ds, nil
}
