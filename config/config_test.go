package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwdetchar/omegascan/omega"
)

const testConfig = `[DEFAULT]
frametype = %(IFO)s_R
duration = 64

[primary]
channel = %(IFO)s:GDS-CALIB_STRAIN
frametype = %(IFO)s_HOFT_C00
f-low = 10
resample = 4096

[gw]
name = Gravitational Wave Strain
duration = 16
fftlength = 4
q-range = 4,150
frequency-range = 10,2048
plot-time-durations = 1,4,16
always-plot = True
channels = %(IFO)s:GDS-CALIB_STRAIN
    %(IFO)s:DCS-CALIB_STRAIN_C01

[seismic]
state-flag = %(IFO)s:DMT-ANALYSIS_READY:1
channels = %(IFO)s:ISI-GND_STS_ITMY_Z_DQ
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Blocks(t *testing.T) {
	path := writeFile(t, t.TempDir(), "L1.ini", testConfig)
	cfg, err := Load("L1", path)
	require.NoError(t, err)

	assert.Equal(t, []string{"primary", "gw", "seismic"}, cfg.Sections())

	blocks, err := cfg.Blocks()
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	gw := blocks[0]
	assert.Equal(t, "gw", gw.Key)
	assert.Equal(t, "Gravitational Wave Strain", gw.Name)
	assert.Equal(t, 16.0, gw.Duration)
	assert.Equal(t, 4.0, gw.FFTLength)
	assert.Equal(t, "L1_R", gw.Frametype)
	assert.Equal(t, omega.Range{4, 150}, gw.QRange)
	assert.Equal(t, omega.Range{10, 2048}, gw.FRange)
	assert.Equal(t, []float64{1, 4, 16}, gw.PlotDurations)
	assert.True(t, gw.AlwaysPlot)
	assert.Equal(t, []string{"L1:GDS-CALIB_STRAIN", "L1:DCS-CALIB_STRAIN_C01"}, gw.ChannelNames())
	assert.Equal(t, "gw", gw.Channels[0].Section)

	seismic := blocks[1]
	assert.Equal(t, "seismic", seismic.Name)
	assert.Equal(t, 64.0, seismic.Duration, "inherited from DEFAULT")
	assert.Equal(t, DefaultFFTLength, seismic.FFTLength)
	assert.Equal(t, "L1:DMT-ANALYSIS_READY:1", seismic.Flag)
	assert.Equal(t, omega.Range{0, math.Inf(1)}, seismic.FRange)
	assert.Equal(t, []float64{64}, seismic.PlotDurations)
	assert.False(t, seismic.AlwaysPlot)
	assert.Equal(t, DefaultSearch, seismic.Search)
	assert.Equal(t, DefaultMaxDelay, seismic.MaxDelay)
}

func TestLoad_Primary(t *testing.T) {
	path := writeFile(t, t.TempDir(), "H1.ini", testConfig)
	cfg, err := Load("H1", path)
	require.NoError(t, err)

	primary, err := cfg.Primary()
	require.NoError(t, err)
	assert.Equal(t, "H1:GDS-CALIB_STRAIN", primary.Channel().Name)
	assert.Equal(t, "H1_HOFT_C00", primary.Frametype)
	assert.Equal(t, 10.0, primary.FLow)
	assert.Equal(t, DefaultLength, primary.Length)
	assert.Equal(t, 4096, primary.Resample)
	assert.Len(t, primary.Channels, 1)
}

func TestLoad_NoPrimary(t *testing.T) {
	path := writeFile(t, t.TempDir(), "c.ini", "[aux]\nchannels = X1:A\n")
	cfg, err := Load("X1", path)
	require.NoError(t, err)

	_, err = cfg.Primary()
	assert.True(t, errors.Is(err, ErrNoSection))
}

func TestLoad_LaterFilesOverride(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "a.ini", "[aux]\nduration = 8\nchannels = X1:A\n")
	second := writeFile(t, dir, "b.ini", "[aux]\nduration = 4\n\n[extra]\nchannels = X1:B\n")

	cfg, err := Load("X1", first, second)
	require.NoError(t, err)
	blocks, err := cfg.Blocks()
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, 4.0, blocks[0].Duration)
	assert.Equal(t, []string{"X1:A"}, blocks[0].ChannelNames())
	assert.Equal(t, "extra", blocks[1].Key)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad float", "[aux]\nduration = long\nchannels = X1:A\n", "invalid duration"},
		{"no channels", "[aux]\nduration = 8\n", "no channels configured"},
		{"bad range", "[aux]\nq-range = 4\nchannels = X1:A\n", "invalid q-range"},
		{"inverted range", "[aux]\nfrequency-range = 100,10\nchannels = X1:A\n", "invalid frequency-range"},
		{"bad bool", "[aux]\nalways-plot = maybe\nchannels = X1:A\n", "invalid always-plot"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.name+".ini", tt.content)
			cfg, err := Load("X1", path)
			require.NoError(t, err)
			_, err = cfg.Blocks()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := Load("X1")
	assert.Error(t, err)
	_, err = Load("X1", filepath.Join(dir, "missing.ini"))
	assert.Error(t, err)
}

func TestEpochAndDefaultConfiguration(t *testing.T) {
	assert.Equal(t, "O1", Epoch(1126259462.4))
	assert.Equal(t, "O2", Epoch(1187008882.4))
	assert.Equal(t, "O3", Epoch(1240215503))
	assert.Equal(t, "O4", Epoch(1400000000))
	assert.Equal(t, "ER", Epoch(1000000000))

	dir := t.TempDir()
	path := writeFile(t, dir, "H1-O1.ini", "[aux]\nchannels = H1:A\n")
	files, err := DefaultConfiguration(dir, "H1", 1126259462.4)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, files)

	_, err = DefaultConfiguration(dir, "L1", 1126259462.4)
	assert.Error(t, err)
}
