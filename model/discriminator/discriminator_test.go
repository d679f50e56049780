package discriminator_test

import (
	"github.com/chewxy/math32"
	"github.com/sw965/ganbert/blas32/tensor/2d"
	"github.com/sw965/ganbert/mathx"
	"github.com/sw965/ganbert/mathx/randx"
	"github.com/sw965/ganbert/model"
	"github.com/sw965/ganbert/model/discriminator"
	"testing"
)

func TestDiscriminateShape(t *testing.T) {
	rng := randx.NewMt19937(1)
	d := discriminator.New(4, 5, 2, 0.1, rng)
	var _ model.Discriminator = d

	out, _, err := d.Discriminate(tensor2d.NewUniform(6, 4, -1, 1, rng))
	if err != nil {
		t.Fatal(err)
	}
	if out.Features.Rows != 6 || out.Features.Cols != 5 {
		t.Errorf("features %dx%d", out.Features.Rows, out.Features.Cols)
	}
	if out.Logits.Cols != 3 || out.Probs.Cols != 3 {
		t.Errorf("logits %d cols, probs %d cols, want 3", out.Logits.Cols, out.Probs.Cols)
	}
}

func TestDiscriminateWithoutGrad(t *testing.T) {
	rng := randx.NewMt19937(4)
	d := discriminator.New(4, 5, 2, 0.1, rng)
	d.Eval()
	x := tensor2d.NewUniform(3, 4, -1, 1, rng)

	want, _, err := d.Discriminate(x)
	if err != nil {
		t.Fatal(err)
	}
	d.SetGradEnabled(false)
	out, backward, err := d.Discriminate(x)
	if err != nil {
		t.Fatal(err)
	}
	if backward != nil {
		t.Errorf("grad disabled, got a backward")
	}
	for i := range want.Probs.Data {
		if out.Probs.Data[i] != want.Probs.Data[i] {
			t.Fatalf("probs[%d] = %f, want %f", i, out.Probs.Data[i], want.Probs.Data[i])
		}
	}
}

func TestDiscriminateGradient(t *testing.T) {
	rng := randx.NewMt19937(4)
	d := discriminator.New(3, 4, 2, 0.0, rng)
	d.Train()

	x := tensor2d.NewUniform(4, 3, -1, 1, rng)
	rf := tensor2d.NewUniform(4, 4, -1, 1, rng)
	rl := tensor2d.NewUniform(4, 3, -1, 1, rng)

	loss := func([]float32) float32 {
		out, _, err := d.Discriminate(x)
		if err != nil {
			t.Fatal(err)
		}
		var sum float32
		for i := range out.Features.Data {
			sum += out.Features.Data[i] * rf.Data[i]
		}
		for i := range out.Logits.Data {
			sum += out.Logits.Data[i] * rl.Data[i]
		}
		return sum
	}

	_, backward, err := d.Discriminate(x)
	if err != nil {
		t.Fatal(err)
	}
	dx, err := backward(rf, rl)
	if err != nil {
		t.Fatal(err)
	}

	check := func(name string, got, data []float32) {
		num := mathx.NumericalGradient(data, 1e-2, loss)
		for i := range num {
			if math32.Abs(got[i]-num[i]) > 2e-2*math32.Max(1, math32.Abs(num[i])) {
				t.Errorf("%s[%d]: analytic %f, numerical %f", name, i, got[i], num[i])
			}
		}
	}
	check("dx", dx.Data, x.Data)
	params := d.Parameters()
	grads := d.Grads()
	for i := range params {
		check("dW", grads[i].Weight.Data, params[i].Weight.Data)
		check("db", grads[i].Bias.Data, params[i].Bias.Data)
	}

	if _, err := backward(tensor2d.NewZeros(1, 1), rl); err == nil {
		t.Errorf("expected a shape error for dFeatures")
	}
}
