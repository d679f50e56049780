package tensor3d

import (
	"fmt"
	"gonum.org/v1/gonum/blas/blas32"
)

// General は [Channels, Rows, Cols] の密テンソル。
// エンコーダーの出力では [バッチ, 系列長, 隠れ次元] として使う。
type General struct {
	Channels      int
	Rows          int
	Cols          int
	ChannelStride int
	RowStride     int
	Data          []float32
}

func NewZeros(chs, rows, cols int) General {
	rowStride := cols
	chStride := rows * rowStride
	n := chs * chStride
	return General{
		Channels:      chs,
		Rows:          rows,
		Cols:          cols,
		ChannelStride: chStride,
		RowStride:     rowStride,
		Data:          make([]float32, n),
	}
}

func (g General) At(ch, row, col int) int {
	return ch*g.ChannelStride + row*g.RowStride + col
}

// Slice は (ch, row) の列ベクトル部分を共有スライスで返す。
func (g General) Slice(ch, row int) []float32 {
	offset := g.At(ch, row, 0)
	return g.Data[offset : offset+g.Cols]
}

// SelectRow は各チャンネルの row 行目を取り出し [Channels, Cols] の行列にする。
func (g General) SelectRow(row int) (blas32.General, error) {
	if row < 0 || row >= g.Rows {
		return blas32.General{}, fmt.Errorf("tensor3d.SelectRow: row %d out of %d", row, g.Rows)
	}
	y := blas32.General{
		Rows:   g.Channels,
		Cols:   g.Cols,
		Stride: g.Cols,
		Data:   make([]float32, g.Channels*g.Cols),
	}
	for ch := 0; ch < g.Channels; ch++ {
		copy(y.Data[ch*y.Stride:ch*y.Stride+g.Cols], g.Slice(ch, row))
	}
	return y, nil
}

// ScatterRow は SelectRow の逆写像。row 行目以外は 0 の [chs, rows, x.Cols] を返す。
func ScatterRow(x blas32.General, rows, row int) (General, error) {
	if row < 0 || row >= rows {
		return General{}, fmt.Errorf("tensor3d.ScatterRow: row %d out of %d", row, rows)
	}
	y := NewZeros(x.Rows, rows, x.Cols)
	for ch := 0; ch < x.Rows; ch++ {
		copy(y.Slice(ch, row), x.Data[ch*x.Stride:ch*x.Stride+x.Cols])
	}
	return y, nil
}
