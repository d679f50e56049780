package model

import (
	"fmt"
	"github.com/sw965/ganbert/blas32/tensor/2d"
	"github.com/sw965/ganbert/blas32/vector"
	"gonum.org/v1/gonum/blas/blas32"
)

// Parameter は1層分の学習パラメーター。活性化関数等のパラメーターを持たない層では両方とも空になる。
type Parameter struct {
	Weight blas32.General
	Bias   blas32.Vector
}

func (p *Parameter) NewGradZerosLike() GradBuffer {
	return GradBuffer{
		Weight: tensor2d.NewZerosLike(p.Weight),
		Bias:   vector.NewZerosLike(p.Bias),
	}
}

func (p *Parameter) Clone() Parameter {
	return Parameter{
		Weight: tensor2d.Clone(p.Weight),
		Bias:   vector.Clone(p.Bias),
	}
}

// CopyFrom はメモリを共有したまま値だけを書き換える。
func (p *Parameter) CopyFrom(src *Parameter) error {
	if err := tensor2d.CopyInto(p.Weight, src.Weight); err != nil {
		return err
	}
	return vector.CopyInto(p.Bias, src.Bias)
}

func (p *Parameter) N() int {
	return tensor2d.N(p.Weight) + p.Bias.N
}

type Parameters []Parameter

func (ps Parameters) NewGradsZerosLike() GradBuffers {
	grads := make(GradBuffers, len(ps))
	for i, p := range ps {
		grads[i] = p.NewGradZerosLike()
	}
	return grads
}

func (ps Parameters) Clone() Parameters {
	clone := make(Parameters, len(ps))
	for i, p := range ps {
		clone[i] = p.Clone()
	}
	return clone
}

func (ps Parameters) CopyFrom(src Parameters) error {
	if len(ps) != len(src) {
		return fmt.Errorf("Parameters.CopyFrom: len = %d, src len = %d", len(ps), len(src))
	}
	for i := range ps {
		if err := ps[i].CopyFrom(&src[i]); err != nil {
			return fmt.Errorf("Parameters.CopyFrom: layer %d: %w", i, err)
		}
	}
	return nil
}

func (ps Parameters) N() int {
	n := 0
	for i := range ps {
		n += ps[i].N()
	}
	return n
}

type GradBuffer struct {
	Weight blas32.General
	Bias   blas32.Vector
}

func (g GradBuffer) Clone() GradBuffer {
	return GradBuffer{
		Weight: tensor2d.Clone(g.Weight),
		Bias:   vector.Clone(g.Bias),
	}
}

func (g *GradBuffer) Axpy(alpha float32, x *GradBuffer) {
	if x.Weight.Rows != 0 {
		tensor2d.Axpy(alpha, x.Weight, g.Weight)
	}

	if x.Bias.N != 0 {
		blas32.Axpy(alpha, x.Bias, g.Bias)
	}
}

func (g *GradBuffer) Zero() {
	clear(g.Weight.Data)
	clear(g.Bias.Data)
}

type GradBuffers []GradBuffer

func (gs GradBuffers) Clone() GradBuffers {
	clone := make(GradBuffers, len(gs))
	for i, g := range gs {
		clone[i] = g.Clone()
	}
	return clone
}

func (gs GradBuffers) Axpy(alpha float32, xs GradBuffers) {
	for i := range gs {
		gs[i].Axpy(alpha, &xs[i])
	}
}

func (gs GradBuffers) Zero() {
	for i := range gs {
		gs[i].Zero()
	}
}
