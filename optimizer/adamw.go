package optimizer

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"github.com/sw965/ganbert/model"
)

const (
	DefaultBeta1       = 0.9
	DefaultBeta2       = 0.999
	DefaultEpsilon     = 1e-8
	DefaultWeightDecay = 0.01
)

// AdamW is Adam with decoupled weight decay, updating every parameter of
// the modules it was built from.
type AdamW struct {
	group
	LearningRate float32
	Beta1        float32
	Beta2        float32
	Epsilon      float32
	WeightDecay  float32

	step     int
	expAvg   []model.GradBuffers
	expAvgSq []model.GradBuffers
}

func NewAdamW(lr, weightDecay float32, modules ...model.Module) *AdamW {
	g := group{modules: modules}
	return &AdamW{
		group:        g,
		LearningRate: lr,
		Beta1:        DefaultBeta1,
		Beta2:        DefaultBeta2,
		Epsilon:      DefaultEpsilon,
		WeightDecay:  weightDecay,
		expAvg:       g.newBuffers(),
		expAvgSq:     g.newBuffers(),
	}
}

func (opt *AdamW) ZeroGrad() {
	opt.zeroGrad()
}

func (opt *AdamW) Step() error {
	t := float32(opt.step + 1)
	lr := opt.LearningRate
	b1, b2 := opt.Beta1, opt.Beta2
	bc1 := 1 - math32.Pow(b1, t)
	bc2Sqrt := math32.Sqrt(1 - math32.Pow(b2, t))
	decay := 1 - lr*opt.WeightDecay
	stepSize := lr / bc1

	err := opt.each([][]model.GradBuffers{opt.expAvg, opt.expAvgSq}, func(w, grad []float32, bufs [][]float32) {
		m, v := bufs[0], bufs[1]
		for i, g := range grad {
			w[i] *= decay
			m[i] = b1*m[i] + (1-b1)*g
			v[i] = b2*v[i] + (1-b2)*g*g
			denom := math32.Sqrt(v[i])/bc2Sqrt + opt.Epsilon
			w[i] -= stepSize * m[i] / denom
		}
	})
	if err != nil {
		return err
	}
	opt.step++
	return nil
}

func (opt *AdamW) State() State {
	return State{
		Step:         opt.step,
		LearningRate: opt.LearningRate,
		Buffers: map[string][]model.GradBuffers{
			"exp_avg":    cloneBuffers(opt.expAvg),
			"exp_avg_sq": cloneBuffers(opt.expAvgSq),
		},
	}
}

func (opt *AdamW) LoadState(state State) error {
	expAvg, ok1 := state.Buffers["exp_avg"]
	expAvgSq, ok2 := state.Buffers["exp_avg_sq"]
	if !ok1 || !ok2 {
		return errors.Wrap(ErrStateMismatch, "AdamW: missing moment buffers")
	}
	if err := checkBuffers("AdamW", opt.expAvg, expAvg); err != nil {
		return err
	}
	if err := checkBuffers("AdamW", opt.expAvgSq, expAvgSq); err != nil {
		return err
	}
	opt.step = state.Step
	opt.LearningRate = state.LearningRate
	opt.expAvg = cloneBuffers(expAvg)
	opt.expAvgSq = cloneBuffers(expAvgSq)
	return nil
}
