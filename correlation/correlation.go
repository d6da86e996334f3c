// Package correlation cross-correlates auxiliary channels against the
// whitened primary channel.
package correlation

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/gwdetchar/omegascan/omega"
)

// sampleRateTolerance is the relative difference below which two sample
// rates are considered equal.
const sampleRateTolerance = 1e-9

// CrossCorrelate slides the matched filter h along x and returns the
// normalised correlation sampled like x. Sample k holds the overlap of x with
// h centred on sample k, so a transient at time t in x peaks at t.
func CrossCorrelate(x, h *omega.TimeSeries) (*omega.TimeSeries, error) {
	if x.Len() == 0 || h.Len() == 0 {
		return nil, errors.New("cannot correlate empty series")
	}
	if math.Abs(x.SampleRate-h.SampleRate) > sampleRateTolerance*h.SampleRate {
		return nil, fmt.Errorf("sample rate mismatch: %s at %g Hz, %s at %g Hz", x.Name, x.SampleRate, h.Name, h.SampleRate)
	}
	norm := floats.Norm(h.Values, 2)
	if norm == 0 {
		return nil, fmt.Errorf("matched filter %s is identically zero", h.Name)
	}

	n, m := len(x.Values), len(h.Values)
	half := m / 2
	out := make([]float64, n)
	for k := 0; k < n; k++ {
		lo := max(0, half-k)
		hi := min(m, n-k+half)
		out[k] = floats.Dot(x.Values[k+lo-half:k+hi-half], h.Values[lo:hi]) / norm
	}
	return &omega.TimeSeries{
		Name:       x.Name,
		T0:         x.T0,
		SampleRate: x.SampleRate,
		Values:     out,
	}, nil
}

// Features extracts the loudest correlation within maxDelay seconds of gps,
// its delay in ms, and the standard deviation of the whole series.
func Features(corr *omega.TimeSeries, gps, maxDelay float64) *omega.Correlation {
	window := corr.Crop(gps-maxDelay, gps+maxDelay+1/corr.SampleRate)
	if window.Len() == 0 {
		window = corr
	}
	peak, at := 0.0, 0
	for i, v := range window.Values {
		if math.Abs(v) > peak {
			peak, at = math.Abs(v), i
		}
	}
	return &omega.Correlation{
		Max:    round(peak, 1),
		StdDev: round(corr.Std(), 2),
		Delay:  round((window.Time(at)-gps)*1000, 1),
	}
}

func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
