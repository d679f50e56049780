package dataset

import (
	"github.com/pkg/errors"
	"io"
	"math/rand/v2"
)

// DataLoader は Dataset をミニバッチへ分割する。最後のバッチは BatchSize より小さくなりうる。
type DataLoader struct {
	Dataset   *Dataset
	BatchSize int
	Shuffle   bool

	rng  *rand.Rand
	idxs []int
	pos  int
}

func NewDataLoader(ds *Dataset, batchSize int, shuffle bool, rng *rand.Rand) (*DataLoader, error) {
	if batchSize <= 0 {
		return nil, errors.Errorf("dataset: batch size %d must be positive", batchSize)
	}
	if shuffle && rng == nil {
		return nil, errors.New("dataset: shuffle requires a random source")
	}
	l := &DataLoader{Dataset: ds, BatchSize: batchSize, Shuffle: shuffle, rng: rng}
	l.Reset()
	return l, nil
}

// Len is the number of batches per pass.
func (l *DataLoader) Len() int {
	n := l.Dataset.Len()
	return (n + l.BatchSize - 1) / l.BatchSize
}

func (l *DataLoader) Reset() {
	n := l.Dataset.Len()
	if l.Shuffle {
		l.idxs = l.rng.Perm(n)
	} else {
		l.idxs = make([]int, n)
		for i := range l.idxs {
			l.idxs[i] = i
		}
	}
	l.pos = 0
}

// Next は次のバッチを返す。全て返し終えた後は io.EOF を返す。
func (l *DataLoader) Next() (*Batch, error) {
	n := len(l.idxs)
	if l.pos >= n {
		return nil, io.EOF
	}
	end := l.pos + l.BatchSize
	if end > n {
		end = n
	}
	b, err := l.Dataset.Batch(l.idxs[l.pos:end]...)
	if err != nil {
		return nil, err
	}
	l.pos = end
	return b, nil
}
