package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwdetchar/omegascan/omega"
)

// helperScript answers every method with a canned response and saves the
// last request to request.json next to the script.
const helperScript = `#!/bin/sh
dir=$(dirname "$0")
cat > "$dir/request.json"
case "$1" in
get-data)
  echo '{"result": {"series": {"X1:A": {"t0": 100, "sampleRate": 4, "values": [1, 2, 3, 4]}}}}' ;;
check-flag)
  echo '{"result": {"active": true}}' ;;
primary)
  echo '{"result": {"name": "X1:STRAIN", "t0": 99.5, "sampleRate": 4, "values": [0, 1, 0, 0]}}' ;;
scan)
  echo '{"result": {"whitened": {"name": "X1:A", "t0": 96, "sampleRate": 4, "values": [0, 0]}, "loudest": {"time": 100.1, "frequency": 30, "q": 8, "energy": 20, "snr": 6}, "far": 1e-9}}' ;;
whiten-bandpass)
  echo '{"result": {"name": "X1:A", "t0": 100, "sampleRate": 4, "values": [0.5]}}' ;;
refuse)
  echo '{"error": "no frames found"}' ;;
garbage)
  echo 'Traceback (most recent call last):' ;;
*)
  echo "unknown method $1" >&2
  exit 2 ;;
esac
`

func newHelper(t *testing.T, script string) (*Bridge, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "helper.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return &Bridge{Command: "/bin/sh", Args: []string{path}, Attempts: 2, Delay: time.Millisecond}, dir
}

func lastRequest(t *testing.T, dir string, v interface{}) {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(dir, "request.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, v))
}

func TestBridge_Get(t *testing.T) {
	b, dir := newHelper(t, helperScript)
	data, err := b.Get(context.Background(), &omega.DataRequest{Channels: []string{"X1:A"}, Start: 99, End: 101, Frametype: "X1_R", NProc: 4})
	require.NoError(t, err)

	ts, err := omega.Lookup(data, "X1:A")
	require.NoError(t, err)
	assert.Equal(t, "X1:A", ts.Name, "name defaults to the map key")
	assert.Equal(t, []float64{1, 2, 3, 4}, ts.Values)

	var req omega.DataRequest
	lastRequest(t, dir, &req)
	assert.Equal(t, []string{"X1:A"}, req.Channels)
	assert.Equal(t, "X1_R", req.Frametype)
	assert.Equal(t, 4, req.NProc)
}

func TestBridge_Active(t *testing.T) {
	b, dir := newHelper(t, helperScript)
	active, err := b.Active(context.Background(), "X1:READY:1", 1000, 32, 1)
	require.NoError(t, err)
	assert.True(t, active)

	var req checkFlagRequest
	lastRequest(t, dir, &req)
	assert.Equal(t, checkFlagRequest{Flag: "X1:READY:1", GPS: 1000, Duration: 32, Pad: 1}, req)
}

func TestBridge_Transformer(t *testing.T) {
	b, dir := newHelper(t, helperScript)
	var _ omega.Transformer = b

	matched, err := b.Primary(context.Background(), &omega.PrimaryRequest{GPS: 100, Length: 1, Data: &omega.TimeSeries{Name: "X1:STRAIN"}})
	require.NoError(t, err)
	assert.Equal(t, 99.5, matched.T0)

	res, err := b.Scan(context.Background(), &omega.ScanRequest{
		GPS:    100,
		Data:   &omega.TimeSeries{Name: "X1:A", SampleRate: 4, Values: []float64{1}},
		FRange: omega.Range{0, math.Inf(1)},
		QRange: omega.Range{4, 64},
	})
	require.NoError(t, err)
	assert.Equal(t, 6.0, res.Loudest.SNR)
	assert.Equal(t, 1e-9, res.FAR)

	var req omega.ScanRequest
	lastRequest(t, dir, &req)
	assert.True(t, math.IsInf(req.FRange[1], 1), "infinite bounds survive the round trip")

	filtered, err := b.WhitenBandpass(context.Background(), &omega.TimeSeries{Name: "X1:A"}, 4, 10, 4, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5}, filtered.Values)
}

func TestBridge_HelperErrorIsFinal(t *testing.T) {
	b, _ := newHelper(t, helperScript)
	b.Attempts = 5
	b.Delay = time.Hour // a retry would hang the test

	err := b.Call(context.Background(), "refuse", struct{}{}, nil)
	var herr *HelperError
	require.True(t, errors.As(err, &herr), "got %v", err)
	assert.Equal(t, "no frames found", herr.Message)
	assert.Equal(t, "refuse: no frames found", herr.Error())
}

func TestBridge_ProcessFailures(t *testing.T) {
	b, _ := newHelper(t, helperScript)

	err := b.Call(context.Background(), "explode", struct{}{}, nil)
	assert.ErrorContains(t, err, "unknown method explode")

	err = b.Call(context.Background(), "garbage", struct{}{}, nil)
	assert.ErrorContains(t, err, "invalid JSON")
}

func TestBridge_RetriesTransientFailures(t *testing.T) {
	// Fails until the marker file exists, creating it on the first run.
	script := `#!/bin/sh
marker="$(dirname "$0")/ran"
if [ ! -f "$marker" ]; then
  touch "$marker"
  echo "NDS server busy" >&2
  exit 1
fi
echo '{"result": {"active": false}}'
`
	b, _ := newHelper(t, script)
	active, err := b.Active(context.Background(), "X1:READY:1", 0, 1, 1)
	require.NoError(t, err)
	assert.False(t, active)

	b2, _ := newHelper(t, script)
	b2.Attempts = 1
	_, err = b2.Active(context.Background(), "X1:READY:1", 0, 1, 1)
	assert.ErrorContains(t, err, "NDS server busy")
}

func TestBridge_MissingWhitened(t *testing.T) {
	b, _ := newHelper(t, `#!/bin/sh
cat > /dev/null
echo '{"result": {"far": 0.1}}'
`)
	_, err := b.Scan(context.Background(), &omega.ScanRequest{Data: &omega.TimeSeries{Name: "X1:A"}})
	assert.ErrorContains(t, err, "no whitened series")
}
