// Package scattering predicts scattered-light fringes from optic motion.
package scattering

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/gwdetchar/omegascan/omega"
)

// Wavelength of the main laser in microns, the unit of the optic motion channels.
const Wavelength = 1.064

// OpticMotionChannels lists the longitudinal motion channels of each suspended optic,
// without the interferometer prefix.
var OpticMotionChannels = map[string][]string{
	"BS":   {"SUS-BS_M1_DAMP_L_IN1_DQ", "SUS-BS_M2_WIT_L_DQ"},
	"ETMX": {"SUS-ETMX_M0_DAMP_L_IN1_DQ", "SUS-ETMX_R0_DAMP_L_IN1_DQ", "SUS-ETMX_L2_WIT_L_DQ"},
	"ETMY": {"SUS-ETMY_M0_DAMP_L_IN1_DQ", "SUS-ETMY_R0_DAMP_L_IN1_DQ", "SUS-ETMY_L2_WIT_L_DQ"},
	"IM1":  {"SUS-IM1_M1_DAMP_L_IN1_DQ"},
	"IM2":  {"SUS-IM2_M1_DAMP_L_IN1_DQ"},
	"IM3":  {"SUS-IM3_M1_DAMP_L_IN1_DQ"},
	"IM4":  {"SUS-IM4_M1_DAMP_L_IN1_DQ"},
	"ITMX": {"SUS-ITMX_M0_DAMP_L_IN1_DQ", "SUS-ITMX_R0_DAMP_L_IN1_DQ", "SUS-ITMX_L2_WIT_L_DQ"},
	"ITMY": {"SUS-ITMY_M0_DAMP_L_IN1_DQ", "SUS-ITMY_R0_DAMP_L_IN1_DQ", "SUS-ITMY_L1_WIT_L_DQ"},
	"MC1":  {"SUS-MC1_M1_DAMP_L_IN1_DQ", "SUS-MC1_M3_WIT_L_DQ"},
	"MC2":  {"SUS-MC2_M1_DAMP_L_IN1_DQ", "SUS-MC2_M3_WIT_L_DQ"},
	"MC3":  {"SUS-MC3_M1_DAMP_L_IN1_DQ", "SUS-MC3_M3_WIT_L_DQ"},
	"OM1":  {"SUS-OM1_M1_DAMP_L_IN1_DQ"},
	"OM2":  {"SUS-OM2_M1_DAMP_L_IN1_DQ"},
	"OM3":  {"SUS-OM3_M1_DAMP_L_IN1_DQ"},
	"OMC":  {"SUS-OMC_M1_DAMP_L_IN1_DQ"},
	"PR2":  {"SUS-PR2_M1_DAMP_L_IN1_DQ", "SUS-PR2_M3_WIT_L_DQ"},
	"PR3":  {"SUS-PR3_M1_DAMP_L_IN1_DQ", "SUS-PR3_M3_WIT_L_DQ"},
	"PRM":  {"SUS-PRM_M1_DAMP_L_IN1_DQ", "SUS-PRM_M3_WIT_L_DQ"},
	"RM1":  {"SUS-RM1_M1_DAMP_L_IN1_DQ"},
	"RM2":  {"SUS-RM2_M1_DAMP_L_IN1_DQ"},
	"ZM1":  {"SUS-ZM1_M1_DAMP_L_IN1_DQ"},
	"ZM2":  {"SUS-ZM2_M1_DAMP_L_IN1_DQ"},
	"OPO":  {"SUS-OPO_M1_DAMP_L_IN1_DQ"},
	"OFI":  {"SUS-OFI_M1_DAMP_L_IN1_DQ", "SUS-OFI_M1_DAMP_T_IN1_DQ"},
	"SR2":  {"SUS-SR2_M1_DAMP_L_IN1_DQ", "SUS-SR2_M3_WIT_L_DQ"},
	"SR3":  {"SUS-SR3_M1_DAMP_L_IN1_DQ", "SUS-SR3_M3_WIT_L_DQ"},
	"SRM":  {"SUS-SRM_M1_DAMP_L_IN1_DQ", "SUS-SRM_M3_WIT_L_DQ"},
	"TMSX": {"SUS-TMSX_M1_DAMP_L_IN1_DQ"},
	"TMSY": {"SUS-TMSY_M1_DAMP_L_IN1_DQ"},
}

// TransmonChannels are the arm transmission monitors.
var TransmonChannels = []string{
	"ASC-X_TR_B_NSUM_OUT_DQ",
	"ASC-Y_TR_B_NSUM_OUT_DQ",
}

// FrequencyMultipliers are the fringe harmonics worth predicting.
var FrequencyMultipliers = []float64{1, 2, 3, 4}

// ErrShortSeries is returned when a series is too short to differentiate.
var ErrShortSeries = errors.New("series needs at least 5 samples")

// Optics returns the known optic names, sorted.
func Optics() []string {
	optics := make([]string, 0, len(OpticMotionChannels))
	for o := range OpticMotionChannels {
		optics = append(optics, o)
	}
	sort.Strings(optics)
	return optics
}

// Channels returns the fully qualified motion channels of optic at ifo.
func Channels(ifo, optic string) ([]string, error) {
	names, ok := OpticMotionChannels[optic]
	if !ok {
		return nil, fmt.Errorf("unknown optic %q", optic)
	}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = ifo + ":" + n
	}
	return out, nil
}

// FringeFrequency predicts the scattering fringe frequency in Hz of harmonic
// multiplier from a record of optic motion in microns.
func FringeFrequency(series *omega.TimeSeries, multiplier float64) (*omega.TimeSeries, error) {
	v, err := derivative(series.Values)
	if err != nil {
		return nil, err
	}
	scale := multiplier * 2 / Wavelength * series.SampleRate
	for i := range v {
		v[i] = math.Abs(scale * v[i])
	}
	return &omega.TimeSeries{
		Name:       series.Name,
		T0:         series.T0,
		SampleRate: series.SampleRate,
		Values:     v,
	}, nil
}

// derivative is the first derivative per sample of a 5 point quadratic
// Savitzky-Golay fit. The first and last two samples use the fit of the
// outermost window.
func derivative(x []float64) ([]float64, error) {
	n := len(x)
	if n < 5 {
		return nil, ErrShortSeries
	}
	d := make([]float64, n)
	for i := 2; i < n-2; i++ {
		d[i] = slope(x[i-2 : i+3])
	}

	// quadratic fit b + 2cu around the window centre u=0
	edge := func(w []float64, u float64) float64 {
		var c float64
		for k, v := range w {
			j := float64(k - 2)
			c += (j*j - 2) * v
		}
		c /= 14
		return slope(w) + 2*c*u
	}
	head, tail := x[:5], x[n-5:]
	d[0], d[1] = edge(head, -2), edge(head, -1)
	d[n-2], d[n-1] = edge(tail, 1), edge(tail, 2)
	return d, nil
}

func slope(w []float64) float64 {
	return (-2*w[0] - w[1] + w[3] + 2*w[4]) / 10
}

// WhitenBandpasser whitens and bandpasses a series.
type WhitenBandpasser interface {
	WhitenBandpass(ctx context.Context, ts *omega.TimeSeries, flow, fhigh, fftlength, overlap float64) (*omega.TimeSeries, error)
}

// BLRMSOptions configure BLRMS. Zero values take the defaults.
type BLRMSOptions struct {
	FLow      float64
	FHigh     float64
	Stride    float64
	FFTLength float64
	Overlap   float64
}

var DefaultBLRMSOptions = BLRMSOptions{
	FLow:      4,
	FHigh:     10,
	Stride:    1,
	FFTLength: 4,
	Overlap:   2,
}

func (o BLRMSOptions) withDefaults() BLRMSOptions {
	d := DefaultBLRMSOptions
	if o.FLow > 0 {
		d.FLow = o.FLow
	}
	if o.FHigh > 0 {
		d.FHigh = o.FHigh
	}
	if o.Stride > 0 {
		d.Stride = o.Stride
	}
	if o.FFTLength > 0 {
		d.FFTLength = o.FFTLength
	}
	if o.Overlap > 0 {
		d.Overlap = o.Overlap
	}
	return d
}

// BLRMS is the band-limited RMS of the whitened series, one sample per stride.
func BLRMS(ctx context.Context, f WhitenBandpasser, series *omega.TimeSeries, opts BLRMSOptions) (*omega.TimeSeries, error) {
	opts = opts.withDefaults()
	if opts.FLow >= opts.FHigh {
		return nil, fmt.Errorf("invalid band [%g, %g)", opts.FLow, opts.FHigh)
	}
	bp, err := f.WhitenBandpass(ctx, series, opts.FLow, opts.FHigh, opts.FFTLength, opts.Overlap)
	if err != nil {
		return nil, fmt.Errorf("unable to whiten %s: %w", series.Name, err)
	}
	return RMS(bp, opts.Stride)
}

// RMS is the root-mean-square of each whole stride of ts. A trailing partial
// stride is dropped.
func RMS(ts *omega.TimeSeries, stride float64) (*omega.TimeSeries, error) {
	step := int(math.Round(stride * ts.SampleRate))
	if step < 1 {
		return nil, fmt.Errorf("stride %gs is shorter than one sample", stride)
	}
	out := &omega.TimeSeries{
		Name:       ts.Name,
		T0:         ts.T0,
		SampleRate: 1 / stride,
		Values:     make([]float64, 0, ts.Len()/step),
	}
	for i := 0; i+step <= ts.Len(); i += step {
		out.Values = append(out.Values, floats.Norm(ts.Values[i:i+step], 2)/math.Sqrt(float64(step)))
	}
	return out, nil
}

// Segment is a half-open GPS interval.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Flag holds the segments during which a condition was active, within the
// known span of the data.
type Flag struct {
	Name   string    `json:"name"`
	Known  Segment   `json:"known"`
	Active []Segment `json:"active"`
}

// Livetime is the total active duration.
func (f *Flag) Livetime() float64 {
	var t float64
	for _, s := range f.Active {
		t += s.Duration()
	}
	return t
}

// Segments returns a flag active wherever series exceeds threshold. Each
// sample covers one sample period; boundaries are rounded outward to whole
// seconds and overlapping segments merged.
func Segments(series *omega.TimeSeries, threshold float64, name string) *Flag {
	if name == "" {
		name = series.Name
	}
	f := &Flag{
		Name:  name,
		Known: Segment{Start: math.Floor(series.T0), End: math.Ceil(series.End())},
	}
	dt := 1 / series.SampleRate
	for i, v := range series.Values {
		if !(v > threshold) {
			continue
		}
		seg := Segment{
			Start: math.Floor(series.Time(i)),
			End:   math.Ceil(series.Time(i) + dt),
		}
		if n := len(f.Active); n > 0 && seg.Start <= f.Active[n-1].End {
			f.Active[n-1].End = math.Max(f.Active[n-1].End, seg.End)
			continue
		}
		f.Active = append(f.Active, seg)
	}
	return f
}
