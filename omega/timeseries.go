package omega

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// TimeSeries is a regularly sampled series starting at GPS time T0.
type TimeSeries struct {
	Name       string    `json:"name"`
	T0         float64   `json:"t0"`
	SampleRate float64   `json:"sampleRate"`
	Values     []float64 `json:"values"`
}

func (ts *TimeSeries) Len() int {
	if ts == nil {
		return 0
	}
	return len(ts.Values)
}

// Duration is the span covered by the series in seconds.
func (ts *TimeSeries) Duration() float64 {
	if ts.Len() == 0 || ts.SampleRate == 0 {
		return 0
	}
	return float64(len(ts.Values)) / ts.SampleRate
}

// End is the GPS time just after the last sample.
func (ts *TimeSeries) End() float64 {
	return ts.T0 + ts.Duration()
}

// Time returns the GPS time of sample i.
func (ts *TimeSeries) Time(i int) float64 {
	return ts.T0 + float64(i)/ts.SampleRate
}

// Index returns the sample index at GPS time t, clamped to [0, Len()].
func (ts *TimeSeries) Index(t float64) int {
	i := int(math.Round((t - ts.T0) * ts.SampleRate))
	switch {
	case i < 0:
		return 0
	case i > ts.Len():
		return ts.Len()
	}
	return i
}

// Crop returns the samples in [start, end). The values are shared with ts.
func (ts *TimeSeries) Crop(start, end float64) *TimeSeries {
	lo, hi := ts.Index(start), ts.Index(end)
	if hi < lo {
		hi = lo
	}
	return &TimeSeries{
		Name:       ts.Name,
		T0:         ts.Time(lo),
		SampleRate: ts.SampleRate,
		Values:     ts.Values[lo:hi],
	}
}

// Mean of the samples, zero for an empty series.
func (ts *TimeSeries) Mean() float64 {
	if ts.Len() == 0 {
		return 0
	}
	return stat.Mean(ts.Values, nil)
}

// Std is the population standard deviation of the samples.
func (ts *TimeSeries) Std() float64 {
	if ts.Len() == 0 {
		return 0
	}
	_, std := stat.PopMeanStdDev(ts.Values, nil)
	return std
}

// Spectrogram is a normalised-energy map interpolated for plotting.
type Spectrogram struct {
	// Span is the plot duration in seconds this map was interpolated for.
	Span        float64   `json:"span"`
	T0          float64   `json:"t0"`
	DT          float64   `json:"dt"`
	Frequencies []float64 `json:"frequencies"`
	// Values is indexed [time][frequency].
	Values [][]float64 `json:"values"`
}

// Range returns the minimum and maximum energy in the map.
func (s *Spectrogram) Range() (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, row := range s.Values {
		if len(row) == 0 {
			continue
		}
		lo = math.Min(lo, floats.Min(row))
		hi = math.Max(hi, floats.Max(row))
	}
	if math.IsInf(lo, 1) {
		return 0, 0
	}
	return lo, hi
}
