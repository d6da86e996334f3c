package plot

import (
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwdetchar/omegascan/omega"
)

func TestGetColor(t *testing.T) {
	gradient := []color.RGBA{{0, 0, 0, 255}, {200, 100, 0, 255}, {200, 200, 200, 255}}
	assert.Equal(t, gradient[0], GetColor(gradient, -1))
	assert.Equal(t, gradient[0], GetColor(gradient, 0))
	assert.Equal(t, gradient[2], GetColor(gradient, 1))
	assert.Equal(t, gradient[2], GetColor(gradient, 7))
	assert.Equal(t, gradient[1], GetColor(gradient, 0.5))
	assert.Equal(t, color.RGBA{100, 50, 0, 255}, GetColor(gradient, 0.25))
}

func TestGetReadableFreq(t *testing.T) {
	assert.Equal(t, "60 Hz", GetReadableFreq(60))
	assert.Equal(t, "10.5 Hz", GetReadableFreq(10.5))
	assert.Equal(t, "2 kHz", GetReadableFreq(2048-48))
	assert.Equal(t, "1.5 kHz", GetReadableFreq(1500))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "H1-GDS-CALIB_STRAIN", SafeName("H1:GDS-CALIB_STRAIN"))
	assert.Equal(t, "L1-PEM-EY_MAG_X-qscan_whitened-0.5.png", FileName("L1:PEM-EY_MAG_X", KindQScan, 0.5))
	assert.Equal(t, "L1-PEM-EY_MAG_X-timeseries_whitened-4.png", FileName("L1:PEM-EY_MAG_X", KindTimeseries, 4))
}

func TestNearest(t *testing.T) {
	freqs := []float64{10, 20, 40, 80}
	assert.Equal(t, 0, nearest(freqs, 1))
	assert.Equal(t, 0, nearest(freqs, 14))
	assert.Equal(t, 1, nearest(freqs, 16))
	assert.Equal(t, 3, nearest(freqs, 1000))
}

func TestColormaps(t *testing.T) {
	assert.Equal(t, []string{"gray", "jet", "viridis"}, Colormaps())
}

func TestNewRenderer(t *testing.T) {
	_, err := NewRenderer(t.TempDir(), "rainbow", "log")
	assert.ErrorContains(t, err, "unknown colormap")
	_, err = NewRenderer(t.TempDir(), "viridis", "symlog")
	assert.ErrorContains(t, err, "unknown frequency scaling")

	r, err := NewRenderer(t.TempDir(), "jet", "linear")
	require.NoError(t, err)
	assert.False(t, r.LogFrequency)
}

func decodeSize(t *testing.T, path string) (int, int) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	return img.Bounds().Dx(), img.Bounds().Dy()
}

func sine(name string, t0, fs float64, n int) *omega.TimeSeries {
	values := make([]float64, n)
	for i := range values {
		values[i] = float64(i%16) - 8
	}
	return &omega.TimeSeries{Name: name, T0: t0, SampleRate: fs, Values: values}
}

func TestRenderer_Timeseries(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRenderer(dir, "viridis", "log")
	require.NoError(t, err)
	r.Width, r.Height = 200, 100

	ts := sine("H1:GDS-CALIB_STRAIN", 999, 256, 512)
	require.NoError(t, r.Timeseries(ts, 1000, 1, "primary.png", "Whitened Amplitude"))

	w, h := decodeSize(t, filepath.Join(dir, "primary.png"))
	assert.Equal(t, 200+gridMarginLeft+gridMarginRight, w)
	assert.Equal(t, 100+gridMarginTop+gridMarginBottom, h)

	err = r.Timeseries(ts, 5000, 1, "nothing.png", "")
	assert.ErrorContains(t, err, "no data")
}

func TestRenderer_QScan(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRenderer(dir, "viridis", "log")
	require.NoError(t, err)
	r.Width, r.Height = 120, 60

	qgram := func(span float64) *omega.Spectrogram {
		s := &omega.Spectrogram{Span: span, T0: 1000 - span/2, DT: span / 10, Frequencies: []float64{10, 20, 40, 80, 160}}
		for i := 0; i < 10; i++ {
			s.Values = append(s.Values, []float64{0, 1, float64(i), 3, 4})
		}
		return s
	}
	res := &omega.ScanResult{
		Whitened: sine("L1:PEM-EY_MAG_X", 990, 64, 64*20),
		QGrams:   []*omega.Spectrogram{qgram(1), qgram(4)},
	}
	c := &omega.Channel{Name: "L1:PEM-EY_MAG_X"}
	require.NoError(t, r.QScan(1000, c, res))

	assert.Equal(t, []string{
		"L1-PEM-EY_MAG_X-qscan_whitened-1.png",
		"L1-PEM-EY_MAG_X-qscan_whitened-4.png",
	}, c.Plots[KindQScan])
	assert.Len(t, c.Plots[KindTimeseries], 2)
	for _, files := range c.Plots {
		for _, f := range files {
			assert.FileExists(t, filepath.Join(dir, f))
		}
	}
}

func TestRenderer_QScanErrors(t *testing.T) {
	r, err := NewRenderer(t.TempDir(), "gray", "log")
	require.NoError(t, err)
	c := &omega.Channel{Name: "X1:A"}

	err = r.QScan(0, c, &omega.ScanResult{QGrams: []*omega.Spectrogram{{Span: 1}}})
	assert.ErrorContains(t, err, "empty spectrogram")

	err = r.QScan(0, c, &omega.ScanResult{QGrams: []*omega.Spectrogram{{
		Span: 1, Frequencies: []float64{0, 10}, Values: [][]float64{{1, 2}},
	}}})
	assert.ErrorContains(t, err, "log frequency scale")

	err = r.QScan(0, c, &omega.ScanResult{QGrams: []*omega.Spectrogram{{
		Span: 1, Frequencies: []float64{20, 10}, Values: [][]float64{{1, 2}},
	}}})
	assert.ErrorContains(t, err, "not ascending")
}
