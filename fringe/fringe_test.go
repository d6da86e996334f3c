package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwdetchar/omegascan/omega"
	"github.com/gwdetchar/omegascan/scattering"
)

const testGPS = 1000

// fakeSource serves optic motion moving at 5.32 um/s, a fringe of 10 Hz per
// harmonic, for every requested channel except those in missing.
type fakeSource struct {
	missing  map[string]bool
	requests []*omega.DataRequest
}

func (f *fakeSource) Get(_ context.Context, req *omega.DataRequest) (map[string]*omega.TimeSeries, error) {
	f.requests = append(f.requests, req)
	const fs = 16
	out := map[string]*omega.TimeSeries{}
	for _, name := range req.Channels {
		if f.missing[name] {
			continue
		}
		ts := &omega.TimeSeries{Name: name, T0: req.Start, SampleRate: fs, Values: make([]float64, int((req.End-req.Start)*fs))}
		for i := range ts.Values {
			ts.Values[i] = 5.32 * float64(i) / fs
		}
		out[name] = ts
	}
	return out, nil
}

func (f *fakeSource) WhitenBandpass(_ context.Context, ts *omega.TimeSeries, flow, fhigh, fftlength, overlap float64) (*omega.TimeSeries, error) {
	out := *ts
	out.Values = make([]float64, len(ts.Values))
	for i := range out.Values {
		out.Values[i] = 10
	}
	return &out, nil
}

type fakePlotter struct {
	files []string
}

func (f *fakePlotter) Timeseries(ts *omega.TimeSeries, gps, span float64, file, ylabel string) error {
	f.files = append(f.files, file)
	return nil
}

func (f *fakePlotter) QScan(float64, *omega.Channel, *omega.ScanResult) error {
	return nil
}

func testOptions() *options {
	return &options{
		GPS:               testGPS,
		IFO:               "H1",
		Optics:            []string{"BS"},
		Duration:          8,
		Threshold:         15,
		NProc:             1,
		TransmonThreshold: 5,
	}
}

func TestAnalyse(t *testing.T) {
	src := &fakeSource{missing: map[string]bool{"H1:SUS-BS_M2_WIT_L_DQ": true}}
	p := &fakePlotter{}
	results, err := analyse(context.Background(), src, p, testOptions())
	require.NoError(t, err)

	require.Len(t, src.requests, 1)
	assert.Equal(t, []string{"H1:SUS-BS_M1_DAMP_L_IN1_DQ", "H1:SUS-BS_M2_WIT_L_DQ"}, src.requests[0].Channels)
	assert.Equal(t, 996.0, src.requests[0].Start)
	assert.Equal(t, 1004.0, src.requests[0].End)

	// the first harmonic stays at 10 Hz, below threshold
	want := []result{}
	for _, m := range []float64{2, 3, 4} {
		want = append(want, result{
			Channel:    "H1:SUS-BS_M1_DAMP_L_IN1_DQ",
			Multiplier: m,
			Segment:    scattering.Segment{Start: 996, End: 1004},
		})
	}
	assert.Equal(t, want, results)
	assert.Len(t, p.files, len(scattering.FrequencyMultipliers))
	assert.Equal(t, "H1-SUS-BS_M1_DAMP_L_IN1_DQ-fringe_x1-8.png", p.files[0])
}

func TestAnalyseTransmon(t *testing.T) {
	src := &fakeSource{missing: map[string]bool{"H1:ASC-Y_TR_B_NSUM_OUT_DQ": true}}
	opts := testOptions()
	opts.Threshold = 100
	opts.Transmon = true
	results, err := analyse(context.Background(), src, nil, opts)
	require.NoError(t, err)
	require.Len(t, src.requests, 2)
	assert.Equal(t, []result{{
		Channel: "H1:ASC-X_TR_B_NSUM_OUT_DQ",
		Segment: scattering.Segment{Start: 996, End: 1004},
	}}, results)
}

func TestAnalyseUnknownOptic(t *testing.T) {
	opts := testOptions()
	opts.Optics = []string{"NOPE"}
	_, err := analyse(context.Background(), &fakeSource{}, nil, opts)
	assert.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeCSV(&buf, []result{
		{Channel: "H1:SUS-BS_M1_DAMP_L_IN1_DQ", Multiplier: 2, Segment: scattering.Segment{Start: 996, End: 1004}},
		{Channel: "H1:ASC-X_TR_B_NSUM_OUT_DQ", Segment: scattering.Segment{Start: 1000, End: 1001.5}},
	}))
	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Channel", "Multiplier", "Start", "End", "Duration"},
		{"H1:SUS-BS_M1_DAMP_L_IN1_DQ", "2", "996", "1004", "8"},
		{"H1:ASC-X_TR_B_NSUM_OUT_DQ", "", "1000", "1001.5", "1.5"},
	}, records)
}

type brokenPipe struct{}

func (brokenPipe) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestWriteCSVFailure(t *testing.T) {
	err := writeCSV(brokenPipe{}, []result{{Channel: "H1:ASC-X_TR_B_NSUM_OUT_DQ"}})
	assert.ErrorContains(t, err, "broken pipe")
}

func TestNewOptions(t *testing.T) {
	cmd := newRootCmd()
	v := viper.New()
	require.NoError(t, v.BindPFlags(cmd.Flags()))
	require.NoError(t, cmd.ParseFlags([]string{"-i", "L1", "--optic", "ETMX,ITMY", "--duration", "30", "--transmon"}))

	opts, err := newOptions(v, "1187008882.4")
	require.NoError(t, err)
	assert.Equal(t, "L1", opts.IFO)
	assert.Equal(t, 1187008882.4, opts.GPS)
	assert.Equal(t, []string{"ETMX", "ITMY"}, opts.Optics)
	assert.Equal(t, 30.0, opts.Duration)
	assert.Equal(t, 15.0, opts.Threshold)
	assert.True(t, opts.Transmon)
	assert.Equal(t, scattering.DefaultBLRMSOptions.FHigh, opts.BLRMS.FHigh)

	require.NoError(t, cmd.ParseFlags([]string{"--optic", "NOPE"}))
	_, err = newOptions(v, "1187008882.4")
	assert.ErrorContains(t, err, "unknown optic")
}

func TestNewOptionsRequiresIFO(t *testing.T) {
	cmd := newRootCmd()
	v := viper.New()
	require.NoError(t, v.BindPFlags(cmd.Flags()))
	_, err := newOptions(v, "1187008882.4")
	assert.ErrorContains(t, err, "--ifo is required")
}
