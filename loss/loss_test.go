package loss_test

import (
	"github.com/chewxy/math32"
	"github.com/sw965/ganbert/blas32/tensor/2d"
	"github.com/sw965/ganbert/loss"
	"github.com/sw965/ganbert/mathx"
	"github.com/sw965/ganbert/mathx/randx"
	"github.com/sw965/ganbert/model/nn"
	"gonum.org/v1/gonum/blas/blas32"
	"testing"
)

func assertClose(t *testing.T, name string, got, want []float32, tol float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("%s: len %d, want %d", name, len(got), len(want))
	}
	for i := range want {
		if math32.Abs(got[i]-want[i]) > tol*math32.Max(1, math32.Abs(want[i])) {
			t.Errorf("%s[%d] = %f, want %f", name, i, got[i], want[i])
		}
	}
}

func TestFeatureMatching(t *testing.T) {
	real := blas32.General{Rows: 2, Cols: 2, Stride: 2, Data: []float32{1, 2, 3, 4}}
	fake := blas32.General{Rows: 1, Cols: 2, Stride: 2, Data: []float32{0, 0}}
	// mean(real) = [2, 3], mean(fake) = [0, 0] -> (4 + 9) / 2
	value, dReal, dFake, err := loss.FeatureMatching(real, fake)
	if err != nil {
		t.Fatal(err)
	}
	if value != 6.5 {
		t.Errorf("value = %f, want 6.5", value)
	}

	num := mathx.NumericalGradient(real.Data, 1e-2, func([]float32) float32 {
		v, _, _, _ := loss.FeatureMatching(real, fake)
		return v
	})
	assertClose(t, "dReal", dReal.Data, num, 1e-2)
	num = mathx.NumericalGradient(fake.Data, 1e-2, func([]float32) float32 {
		v, _, _, _ := loss.FeatureMatching(real, fake)
		return v
	})
	assertClose(t, "dFake", dFake.Data, num, 1e-2)

	if _, _, _, err := loss.FeatureMatching(real, tensor2d.NewZeros(1, 3)); err == nil {
		t.Errorf("expected a column mismatch error")
	}
}

func TestNegLogTerms(t *testing.T) {
	rng := randx.NewMt19937(9)
	probs := nn.Softmax(tensor2d.NewUniform(4, 3, -2, 2, rng))
	eps := float32(1e-8)

	for name, f := range map[string]func(blas32.General, int, float32) (float32, blas32.General, error){
		"NegLogOneMinus": loss.NegLogOneMinus,
		"NegLog":         loss.NegLog,
	} {
		_, grad, err := f(probs, 2, eps)
		if err != nil {
			t.Fatal(err)
		}
		num := mathx.NumericalGradient(probs.Data, 1e-3, func([]float32) float32 {
			v, _, _ := f(probs, 2, eps)
			return v
		})
		assertClose(t, name, grad.Data, num, 2e-2)

		for r := 0; r < grad.Rows; r++ {
			for c := 0; c < 2; c++ {
				if grad.Data[tensor2d.At(grad, r, c)] != 0 {
					t.Errorf("%s: gradient leaked into column %d", name, c)
				}
			}
		}

		if _, _, err := f(probs, 3, eps); err == nil {
			t.Errorf("%s: expected an out of range column error", name)
		}
	}
}

func TestNegLogEpsilonKeepsFinite(t *testing.T) {
	probs := blas32.General{Rows: 2, Cols: 2, Stride: 2, Data: []float32{0, 1, 1, 0}}
	eps := float32(1e-7)
	for _, f := range []func(blas32.General, int, float32) (float32, blas32.General, error){loss.NegLogOneMinus, loss.NegLog} {
		v, grad, err := f(probs, 1, eps)
		if err != nil {
			t.Fatal(err)
		}
		if math32.IsInf(v, 0) || math32.IsNaN(v) {
			t.Errorf("value is not finite: %f", v)
		}
		for _, g := range grad.Data {
			if math32.IsInf(g, 0) || math32.IsNaN(g) {
				t.Errorf("gradient is not finite: %f", g)
			}
		}
	}
}

func TestMaskedNLL(t *testing.T) {
	rng := randx.NewMt19937(13)
	logits := tensor2d.NewUniform(4, 2, -2, 2, rng)
	labels := []int{0, 1, 0, 1}
	mask := []bool{true, false, true, false}

	value, dLogits, count, err := loss.MaskedNLL(logits, labels, mask)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	// 手計算: 0 行目と 2 行目だけの平均
	logProbs := nn.LogSoftmax(logits)
	want := -(logProbs.Data[tensor2d.At(logProbs, 0, 0)] + logProbs.Data[tensor2d.At(logProbs, 2, 0)]) / 2
	if math32.Abs(value-want) > 1e-5 {
		t.Errorf("value = %f, want %f", value, want)
	}

	for _, r := range []int{1, 3} {
		for _, g := range tensor2d.Row(dLogits, r) {
			if g != 0 {
				t.Errorf("row %d is masked out but has gradient %f", r, g)
			}
		}
	}

	num := mathx.NumericalGradient(logits.Data, 1e-2, func([]float32) float32 {
		v, _, _, _ := loss.MaskedNLL(logits, labels, mask)
		return v
	})
	assertClose(t, "dLogits", dLogits.Data, num, 2e-2)
}

func TestMaskedNLLNoLabels(t *testing.T) {
	logits := blas32.General{Rows: 2, Cols: 2, Stride: 2, Data: []float32{1, 2, 3, 4}}
	value, dLogits, count, err := loss.MaskedNLL(logits, []int{0, 1}, []bool{false, false})
	if err != nil {
		t.Fatal(err)
	}
	if value != 0 || count != 0 {
		t.Errorf("value = %f, count = %d, want exactly 0", value, count)
	}
	for _, g := range dLogits.Data {
		if g != 0 {
			t.Errorf("gradient %f, want 0", g)
		}
	}
}

func TestMaskedNLLRejectsBadLabels(t *testing.T) {
	logits := tensor2d.NewZeros(2, 2)
	if _, _, _, err := loss.MaskedNLL(logits, []int{0, 2}, []bool{true, true}); err == nil {
		t.Errorf("expected a label range error")
	}
	if _, _, _, err := loss.MaskedNLL(logits, []int{0}, []bool{true, true}); err == nil {
		t.Errorf("expected a label count error")
	}
	if _, _, _, err := loss.MaskedNLL(logits, []int{0, 1}, []bool{true}); err == nil {
		t.Errorf("expected a mask length error")
	}
}

func TestMaskedCrossEntropy(t *testing.T) {
	logits := tensor2d.NewZeros(3, 4)
	value, count, err := loss.MaskedCrossEntropy(logits, []int{0, 1, 3}, []bool{true, true, true})
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 || math32.Abs(value-math32.Log(4)) > 1e-6 {
		t.Errorf("uniform logits: %f over %d rows, want log 4 over 3", value, count)
	}

	// マスクされた行はラベルに関係なく無視される
	rng := randx.NewMt19937(21)
	logits = tensor2d.NewUniform(4, 3, -2, 2, rng)
	labels := []int{2, 0, 1, 0}
	mask := []bool{false, true, false, true}
	value, count, err = loss.MaskedCrossEntropy(logits, labels, mask)
	if err != nil {
		t.Fatal(err)
	}
	nll, _, nllCount, err := loss.MaskedNLL(logits, labels, mask)
	if err != nil {
		t.Fatal(err)
	}
	if count != nllCount || math32.Abs(value-nll) > 1e-6 {
		t.Errorf("got %f over %d rows, MaskedNLL gives %f over %d", value, count, nll, nllCount)
	}

	value, count, err = loss.MaskedCrossEntropy(logits, labels, make([]bool, 4))
	if err != nil {
		t.Fatal(err)
	}
	if value != 0 || count != 0 {
		t.Errorf("nothing masked in: %f over %d rows, want exactly 0", value, count)
	}

	if _, _, err := loss.MaskedCrossEntropy(logits, labels, []bool{true}); err == nil {
		t.Errorf("expected a mask length error")
	}
}
