package nn_test

import (
	"github.com/chewxy/math32"
	"github.com/sw965/ganbert/blas32/tensor/2d"
	"github.com/sw965/ganbert/mathx"
	"github.com/sw965/ganbert/mathx/randx"
	"github.com/sw965/ganbert/model/nn"
	"gonum.org/v1/gonum/blas/blas32"
	"testing"
)

const (
	h   = float32(1e-2)
	tol = float32(2e-2)
)

func weightedSum(y, r blas32.General) float32 {
	var sum float32
	for i := range y.Data {
		sum += y.Data[i] * r.Data[i]
	}
	return sum
}

func assertClose(t *testing.T, name string, got, want []float32) {
	t.Helper()
	for i := range want {
		diff := math32.Abs(got[i] - want[i])
		scale := math32.Max(1.0, math32.Abs(want[i]))
		if diff/scale > tol {
			t.Errorf("%s[%d] = %f, numerical %f", name, i, got[i], want[i])
		}
	}
}

func TestSequentialGradient(t *testing.T) {
	rng := randx.NewMt19937(3)
	s := nn.Sequential{}
	s.AppendAffine(3, 4, rng)
	s.AppendTanh()
	s.AppendAffine(4, 2, rng)
	s.AppendLeakyReLU(0.1)
	s.Train()

	x := tensor2d.NewUniform(2, 3, -1, 1, rng)
	r := tensor2d.NewUniform(2, 2, -1, 1, rng)

	y, backward, err := s.Forward(x)
	if err != nil {
		t.Fatal(err)
	}
	if y.Rows != 2 || y.Cols != 2 {
		t.Fatalf("y is %dx%d", y.Rows, y.Cols)
	}
	dx, err := backward(r)
	if err != nil {
		t.Fatal(err)
	}

	loss := func([]float32) float32 {
		y, err := s.Predict(x)
		if err != nil {
			t.Fatal(err)
		}
		return weightedSum(y, r)
	}

	grads := s.Grads()
	for _, i := range []int{0, 2} {
		numW := mathx.NumericalGradient(s.Params[i].Weight.Data, h, loss)
		assertClose(t, "dW", grads[i].Weight.Data, numW)
		numB := mathx.NumericalGradient(s.Params[i].Bias.Data, h, loss)
		assertClose(t, "db", grads[i].Bias.Data, numB)
	}
	numX := mathx.NumericalGradient(x.Data, h, loss)
	assertClose(t, "dx", dx.Data, numX)
}

func TestSequentialGradAccumulatesUntilZeroGrad(t *testing.T) {
	rng := randx.NewMt19937(5)
	s := nn.Sequential{}
	s.AppendAffine(2, 2, rng)

	x := tensor2d.NewUniform(3, 2, -1, 1, rng)
	r := tensor2d.NewUniform(3, 2, -1, 1, rng)
	_, backward, err := s.Forward(x)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := backward(r); err != nil {
		t.Fatal(err)
	}
	once := s.Grads()[0].Clone()
	if _, err := backward(r); err != nil {
		t.Fatal(err)
	}
	for i, e := range s.Grads()[0].Weight.Data {
		if math32.Abs(e-2*once.Weight.Data[i]) > 1e-5 {
			t.Fatalf("second backward did not accumulate: %f vs %f", e, 2*once.Weight.Data[i])
		}
	}

	s.ZeroGrad()
	for _, e := range s.Grads()[0].Weight.Data {
		if e != 0 {
			t.Fatalf("ZeroGrad left %f", e)
		}
	}
}

func TestDropout(t *testing.T) {
	rng := randx.NewMt19937(11)
	s := nn.Sequential{}
	s.AppendDropout(0.5, rng)

	x := tensor2d.NewZeros(8, 8)
	for i := range x.Data {
		x.Data[i] = 1.0
	}

	s.Eval()
	y, err := s.Predict(x)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range y.Data {
		if e != 1.0 {
			t.Fatalf("eval dropout changed the input: %f", e)
		}
	}

	s.Train()
	y, backward, err := s.Forward(x)
	if err != nil {
		t.Fatal(err)
	}
	dropped := 0
	for _, e := range y.Data {
		switch e {
		case 0:
			dropped++
		case 2.0:
		default:
			t.Fatalf("train dropout produced %f, want 0 or 2", e)
		}
	}
	if dropped == 0 || dropped == len(y.Data) {
		t.Errorf("dropped %d of %d", dropped, len(y.Data))
	}

	dx, err := backward(x)
	if err != nil {
		t.Fatal(err)
	}
	for i := range dx.Data {
		if dx.Data[i] != y.Data[i] {
			t.Fatalf("backward mask differs from forward mask at %d", i)
		}
	}
}

func TestGradDisabledBuildsNoBackward(t *testing.T) {
	rng := randx.NewMt19937(5)
	s := nn.Sequential{}
	s.AppendAffine(3, 4, rng)
	s.AppendTanh()
	s.AppendDropout(0.5, rng)
	s.AppendAffine(4, 2, rng)
	s.AppendLeakyReLU(0.1)
	s.Eval()
	x := tensor2d.NewUniform(5, 3, -1, 1, rng)

	want, backward, err := s.Forward(x)
	if err != nil {
		t.Fatal(err)
	}
	if backward == nil {
		t.Fatalf("grad enabled by default, got a nil backward")
	}

	s.SetGradEnabled(false)
	y, backward, err := s.Forward(x)
	if err != nil {
		t.Fatal(err)
	}
	if backward != nil {
		t.Errorf("grad disabled, got a backward")
	}
	assertClose(t, "y", y.Data, want.Data)

	_, backwards, err := s.Forwards.Propagate(x, s.Params, nn.Mode{})
	if err != nil {
		t.Fatal(err)
	}
	if backwards != nil {
		t.Errorf("Propagate without grad returned %d backwards", len(backwards))
	}

	s.SetGradEnabled(true)
	if _, backward, _ := s.Forward(x); backward == nil {
		t.Errorf("re-enabled grad, got a nil backward")
	}
}

func TestSoftmaxBackward(t *testing.T) {
	rng := randx.NewMt19937(17)
	logits := tensor2d.NewUniform(3, 4, -2, 2, rng)
	r := tensor2d.NewUniform(3, 4, -1, 1, rng)

	probs := nn.Softmax(logits)
	for row := 0; row < probs.Rows; row++ {
		var sum float32
		for _, e := range tensor2d.Row(probs, row) {
			sum += e
		}
		if math32.Abs(sum-1) > 1e-5 {
			t.Errorf("row %d sums to %f", row, sum)
		}
	}

	dLogits, err := nn.SoftmaxBackward(probs, r)
	if err != nil {
		t.Fatal(err)
	}
	num := mathx.NumericalGradient(logits.Data, 1e-2, func([]float32) float32 {
		return weightedSum(nn.Softmax(logits), r)
	})
	assertClose(t, "dLogits", dLogits.Data, num)
}

func TestLogSoftmaxMatchesSoftmax(t *testing.T) {
	x := blas32.General{Rows: 1, Cols: 3, Stride: 3, Data: []float32{1000, 1001, 1002}}
	logProbs := nn.LogSoftmax(x)
	probs := nn.Softmax(x)
	for i := range probs.Data {
		if math32.Abs(math32.Exp(logProbs.Data[i])-probs.Data[i]) > 1e-5 {
			t.Errorf("exp(logsoftmax)[%d] = %f, softmax = %f", i, math32.Exp(logProbs.Data[i]), probs.Data[i])
		}
	}
}
