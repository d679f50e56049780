package trainer

import (
	"github.com/pkg/errors"
	"github.com/sw965/ganbert/blas32/tensor/2d"
	"github.com/sw965/ganbert/blas32/tensor/3d"
	"github.com/sw965/ganbert/dataset"
	"github.com/sw965/ganbert/loss"
	"github.com/sw965/ganbert/model"
	"github.com/sw965/ganbert/model/nn"
	"gonum.org/v1/gonum/blas/blas32"
)

var ErrGraphReleased = errors.New("trainer: graph already released")

// graph は1ステップ分の逆伝播クロージャを保持する。retain=false の backward 後は解放され、以降の backward は失敗する。
type graph struct {
	batchSize int
	seqLen    int

	encoder       model.EncoderBackward
	generator     model.GeneratorBackward
	discriminator model.DiscriminatorBackward
}

func (g *graph) released() bool {
	return g.discriminator == nil
}

// backward pushes gradients with respect to the discriminator outputs of all
// 2B rows back through the discriminator, the generator and the encoder.
func (g *graph) backward(dFeatures, dLogits blas32.General, retainGraph bool) error {
	if g.released() {
		return ErrGraphReleased
	}

	dx, err := g.discriminator(dFeatures, dLogits)
	if err != nil {
		return errors.Wrap(err, "discriminator backward")
	}
	dReal, dFake, err := tensor2d.SplitRows(dx, g.batchSize)
	if err != nil {
		return err
	}
	if err := g.generator(dFake); err != nil {
		return errors.Wrap(err, "generator backward")
	}
	chain, err := tensor3d.ScatterRow(dReal, g.seqLen, 0)
	if err != nil {
		return err
	}
	if err := g.encoder(chain); err != nil {
		return errors.Wrap(err, "encoder backward")
	}

	if !retainGraph {
		g.encoder, g.generator, g.discriminator = nil, nil, nil
	}
	return nil
}

// Loss is a scalar bound to the graph it was computed from.
type Loss struct {
	Value float32

	graph     *graph
	dFeatures blas32.General
	dLogits   blas32.General
}

func (l *Loss) Backward(retainGraph bool) error {
	return l.graph.backward(l.dFeatures, l.dLogits, retainGraph)
}

type GeneratorTerms struct {
	FeatureMatching float32
	Adversarial     float32
}

type DiscriminatorTerms struct {
	Supervised float32
	// RealNotFake は本物を fake と判定しない項、FakeIsFake は生成物を fake と判定する項。
	RealNotFake  float32
	FakeIsFake   float32
	LabeledCount int
}

type LossBundle struct {
	Generator          *Loss
	Discriminator      *Loss
	GeneratorTerms     GeneratorTerms
	DiscriminatorTerms DiscriminatorTerms
}

// forwardOutput は 2B 行の識別器出力を real (先頭 B 行) と fake (残り B 行) に分けたもの。
type forwardOutput struct {
	all  model.DiscriminatorOutput
	real model.DiscriminatorOutput
	fake model.DiscriminatorOutput
}

func splitOutput(out model.DiscriminatorOutput, n int) (model.DiscriminatorOutput, model.DiscriminatorOutput, error) {
	var real, fake model.DiscriminatorOutput
	var err error
	if real.Features, fake.Features, err = tensor2d.SplitRows(out.Features, n); err != nil {
		return real, fake, err
	}
	if real.Logits, fake.Logits, err = tensor2d.SplitRows(out.Logits, n); err != nil {
		return real, fake, err
	}
	if real.Probs, fake.Probs, err = tensor2d.SplitRows(out.Probs, n); err != nil {
		return real, fake, err
	}
	return real, fake, nil
}

func (t *Trainer) validateBatch(batch *dataset.Batch) error {
	if err := batch.Validate(t.config.NumLabels()); err != nil {
		return err
	}
	return nil
}

// forward runs encoder, generator and one discriminator pass over the
// stacked real and generated rows.
func (t *Trainer) forward(batch *dataset.Batch) (forwardOutput, *graph, error) {
	b := batch.Size()

	lastHiddenState, encBackward, err := t.encoder.Encode(batch.InputIDs, batch.AttentionMask)
	if err != nil {
		return forwardOutput{}, nil, errors.Wrap(err, "encoder")
	}
	hidden, err := lastHiddenState.SelectRow(0)
	if err != nil {
		return forwardOutput{}, nil, err
	}

	z := t.noise.Generate(b)
	generated, genBackward, err := t.generator.Generate(z)
	if err != nil {
		return forwardOutput{}, nil, errors.Wrap(err, "generator")
	}

	x, err := tensor2d.VStack(hidden, generated)
	if err != nil {
		return forwardOutput{}, nil, errors.Wrap(err, "hidden and generated representations differ")
	}
	out, discBackward, err := t.discriminator.Discriminate(x)
	if err != nil {
		return forwardOutput{}, nil, errors.Wrap(err, "discriminator")
	}
	real, fake, err := splitOutput(out, b)
	if err != nil {
		return forwardOutput{}, nil, err
	}

	if encBackward == nil || genBackward == nil || discBackward == nil {
		return forwardOutput{}, nil, errors.New("trainer: a module has gradients disabled")
	}
	g := &graph{
		batchSize:     b,
		seqLen:        lastHiddenState.Rows,
		encoder:       encBackward,
		generator:     genBackward,
		discriminator: discBackward,
	}
	return forwardOutput{all: out, real: real, fake: fake}, g, nil
}

// losses composes the generator and discriminator losses of one forward pass.
func (t *Trainer) losses(out forwardOutput, g *graph, batch *dataset.Batch) (LossBundle, error) {
	b := batch.Size()
	numLabels := t.config.NumLabels()
	fakeCol := numLabels
	eps := t.config.Epsilon
	rows, cols := out.all.Logits.Rows, out.all.Logits.Cols
	if cols != numLabels+1 {
		return LossBundle{}, errors.Errorf("discriminator returned %d logit columns, want %d", cols, numLabels+1)
	}

	// 生成器の損失
	fm, dRealFeat, dFakeFeat, err := loss.FeatureMatching(out.real.Features, out.fake.Features)
	if err != nil {
		return LossBundle{}, err
	}
	adv, dFakeProbs, err := loss.NegLogOneMinus(out.fake.Probs, fakeCol, eps)
	if err != nil {
		return LossBundle{}, err
	}
	genDFeatures, err := tensor2d.VStack(dRealFeat, dFakeFeat)
	if err != nil {
		return LossBundle{}, err
	}
	genDProbs, err := tensor2d.VStack(tensor2d.NewZeros(b, cols), dFakeProbs)
	if err != nil {
		return LossBundle{}, err
	}
	genDLogits, err := nn.SoftmaxBackward(out.all.Probs, genDProbs)
	if err != nil {
		return LossBundle{}, err
	}

	// 識別器の損失
	labels, mask := batch.Labels, batch.LabelMask
	if !batch.HasLabels() {
		labels, mask = make([]int, b), make([]bool, b)
	}
	realLogits, err := tensor2d.SliceCols(out.real.Logits, 0, numLabels)
	if err != nil {
		return LossBundle{}, err
	}
	sup, dSupLogits, labeled, err := loss.MaskedNLL(realLogits, labels, mask)
	if err != nil {
		return LossBundle{}, err
	}
	u1, dRealProbs, err := loss.NegLogOneMinus(out.real.Probs, fakeCol, eps)
	if err != nil {
		return LossBundle{}, err
	}
	u2, dFakeProbsD, err := loss.NegLog(out.fake.Probs, fakeCol, eps)
	if err != nil {
		return LossBundle{}, err
	}
	discDProbs, err := tensor2d.VStack(dRealProbs, dFakeProbsD)
	if err != nil {
		return LossBundle{}, err
	}
	discDLogits, err := nn.SoftmaxBackward(out.all.Probs, discDProbs)
	if err != nil {
		return LossBundle{}, err
	}
	// 教師あり項は real 行の先頭 C 列にだけ勾配を持つ
	for r := 0; r < b; r++ {
		dst := tensor2d.Row(discDLogits, r)
		for c, d := range tensor2d.Row(dSupLogits, r) {
			dst[c] += d
		}
	}

	return LossBundle{
		Generator: &Loss{
			Value:     fm + adv,
			graph:     g,
			dFeatures: genDFeatures,
			dLogits:   genDLogits,
		},
		Discriminator: &Loss{
			Value:     sup + u1 + u2,
			graph:     g,
			dFeatures: tensor2d.NewZeros(rows, out.all.Features.Cols),
			dLogits:   discDLogits,
		},
		GeneratorTerms:     GeneratorTerms{FeatureMatching: fm, Adversarial: adv},
		DiscriminatorTerms: DiscriminatorTerms{Supervised: sup, RealNotFake: u1, FakeIsFake: u2, LabeledCount: labeled},
	}, nil
}

// ComputeLosses は訓練モードで順伝播し、逆伝播可能な損失を返す。パラメーターは更新しない。
func (t *Trainer) ComputeLosses(batch *dataset.Batch) (LossBundle, error) {
	if err := t.validateBatch(batch); err != nil {
		return LossBundle{}, err
	}
	t.setTraining(true)
	out, g, err := t.forward(batch)
	if err != nil {
		return LossBundle{}, err
	}
	return t.losses(out, g, batch)
}

type StepLosses struct {
	Generator     float64
	Discriminator float64
}

// TrainStep runs one adversarial update on batch.
func (t *Trainer) TrainStep(batch *dataset.Batch) (StepLosses, error) {
	bundle, err := t.ComputeLosses(batch)
	if err != nil {
		return StepLosses{}, err
	}
	if err := t.coordinator.Step(bundle.Generator, bundle.Discriminator); err != nil {
		return StepLosses{}, err
	}
	return StepLosses{
		Generator:     float64(bundle.Generator.Value),
		Discriminator: float64(bundle.Discriminator.Value),
	}, nil
}

// NoLabel marks a ground truth for a row whose label_mask is false.
const NoLabel = -1

type ValStepResult struct {
	// Loss は label_mask が true の行だけの交差エントロピー。該当行が無ければ 0。
	Loss        float64
	Predictions []int
	// GroundTruths はラベル無しのバッチでは nil。label_mask が false の行は NoLabel。
	GroundTruths []int
	LabeledCount int
	Probs        blas32.General
}

// ValStep は評価モードかつ勾配無効で識別器だけを通す。逆伝播クロージャは作られない。
func (t *Trainer) ValStep(batch *dataset.Batch) (ValStepResult, error) {
	if err := t.validateBatch(batch); err != nil {
		return ValStepResult{}, err
	}
	t.setTraining(false)
	t.setGradEnabled(false)
	defer t.setGradEnabled(true)

	lastHiddenState, _, err := t.encoder.Encode(batch.InputIDs, batch.AttentionMask)
	if err != nil {
		return ValStepResult{}, errors.Wrap(err, "encoder")
	}
	hidden, err := lastHiddenState.SelectRow(0)
	if err != nil {
		return ValStepResult{}, err
	}
	out, _, err := t.discriminator.Discriminate(hidden)
	if err != nil {
		return ValStepResult{}, errors.Wrap(err, "discriminator")
	}
	logits, err := tensor2d.SliceCols(out.Logits, 0, t.config.NumLabels())
	if err != nil {
		return ValStepResult{}, err
	}

	result := ValStepResult{
		Predictions: tensor2d.ArgMaxRows(logits),
		Probs:       out.Probs,
	}
	if batch.HasLabels() {
		ce, count, err := loss.MaskedCrossEntropy(logits, batch.Labels, batch.LabelMask)
		if err != nil {
			return ValStepResult{}, err
		}
		result.Loss = float64(ce)
		result.LabeledCount = count
		result.GroundTruths = make([]int, len(batch.Labels))
		for i, label := range batch.Labels {
			if batch.LabelMask[i] {
				result.GroundTruths[i] = label
			} else {
				result.GroundTruths[i] = NoLabel
			}
		}
	}
	return result, nil
}

func (t *Trainer) setTraining(training bool) {
	for _, m := range []model.Module{t.encoder, t.generator, t.discriminator} {
		if training {
			m.Train()
		} else {
			m.Eval()
		}
	}
}

func (t *Trainer) setGradEnabled(enabled bool) {
	for _, m := range []model.Module{t.encoder, t.generator, t.discriminator} {
		m.SetGradEnabled(enabled)
	}
}
