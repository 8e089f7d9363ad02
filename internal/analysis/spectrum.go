// Package analysis finds periodicity in sampled series, such as a writer's
// column read back with storage.LoadSeries.
package analysis

import (
	"errors"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

var ErrTooShort = errors.New("analysis: need at least 4 samples")

// PowerSpectrum removes the mean, zero-pads to a power of two and returns
// the magnitude of the non-negative frequency bins.
func PowerSpectrum(data []float64) []float64 {
	n := 1
	for n < len(data) {
		n *= 2
	}
	mean := 0.0
	for _, v := range data {
		mean += v
	}
	mean /= float64(max(len(data), 1))

	padded := make([]float64, n)
	for i, v := range data {
		padded[i] = v - mean
	}

	bins := fft.FFTReal(padded)
	ps := make([]float64, len(bins)/2)
	for i := range ps {
		ps[i] = cmplx.Abs(bins[i])
	}
	return ps
}

// Peak is the strongest non-zero frequency bin of a spectrum.
type Peak struct {
	Bin    int
	Power  float64
	Period float64 // in units of the sample spacing
}

// DominantPeriod returns the strongest periodic component of data sampled
// every spacing units (steps, or time).
func DominantPeriod(data []float64, spacing float64) (Peak, error) {
	if len(data) < 4 {
		return Peak{}, ErrTooShort
	}
	ps := PowerSpectrum(data)

	var p Peak
	for i := 1; i < len(ps); i++ {
		if ps[i] > p.Power {
			p = Peak{Bin: i, Power: ps[i]}
		}
	}
	if p.Bin > 0 {
		n := 2 * len(ps)
		p.Period = float64(n) / float64(p.Bin) * spacing
	}
	return p, nil
}
