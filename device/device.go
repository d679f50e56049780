// Package device selects the compute device once per run and describes it.
package device

import (
	"fmt"
	"github.com/klauspost/cpuid/v2"
	"strings"
)

type Kind string

const (
	CPU  Kind = "cpu"
	CUDA Kind = "cuda"
)

type Device struct {
	Kind     Kind
	Brand    string
	Physical int
	Logical  int
	Features []string
	// BLAS is the name of the BLAS implementation gonum is routed to.
	BLAS string
}

var blasName = "gonum"

// accelerated reports whether a GPU backend is compiled in. None is, so
// every request ends up on the CPU.
func accelerated(Kind) bool {
	return false
}

// Select は要求されたデバイスが使えない場合 CPU にフォールバックし、選択結果を print へ出力する。
func Select(requested string, print func(string)) Device {
	kind := Kind(strings.ToLower(strings.TrimSpace(requested)))
	if kind != CUDA || !accelerated(kind) {
		kind = CPU
	}

	d := Device{
		Kind:     kind,
		Brand:    cpuid.CPU.BrandName,
		Physical: cpuid.CPU.PhysicalCores,
		Logical:  cpuid.CPU.LogicalCores,
		BLAS:     blasName,
	}
	for _, f := range []cpuid.FeatureID{cpuid.AVX, cpuid.AVX2, cpuid.FMA3, cpuid.AVX512F} {
		if cpuid.CPU.Supports(f) {
			d.Features = append(d.Features, f.String())
		}
	}

	if print != nil {
		print("Selected Device: " + strings.ToUpper(string(d.Kind)))
	}
	return d
}

// Parallelism は並列処理に使うワーカー数。
func (d Device) Parallelism() int {
	if d.Logical > 0 {
		return d.Logical
	}
	if d.Physical > 0 {
		return d.Physical
	}
	return 1
}

func (d Device) String() string {
	return fmt.Sprintf("%s (%s, %d cores / %d threads, blas=%s, features=%s)",
		strings.ToUpper(string(d.Kind)), d.Brand, d.Physical, d.Logical, d.BLAS, strings.Join(d.Features, ","))
}
