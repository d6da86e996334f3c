// Package bridge reaches the external spectral-analysis helper.
//
// The helper is any executable that takes the method name as its last
// argument, reads a JSON request on stdin and writes a JSON envelope on
// stdout:
//
//	{"result": ...}            on success
//	{"error": "explanation"}   when the request itself cannot be served
//
// Envelope errors are final. Anything else (the process failing to start,
// exiting non-zero, or printing garbage) is retried.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/golang/glog"

	"github.com/gwdetchar/omegascan/omega"
)

// Methods understood by the helper.
const (
	MethodGetData        = "get-data"
	MethodCheckFlag      = "check-flag"
	MethodPrimary        = "primary"
	MethodScan           = "scan"
	MethodWhitenBandpass = "whiten-bandpass"
)

const (
	defaultAttempts = 3
	defaultDelay    = 2 * time.Second
)

// HelperError is an error reported by the helper in its response envelope.
type HelperError struct {
	Method  string
	Message string
}

func (e *HelperError) Error() string {
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// Bridge runs the helper once per call.
type Bridge struct {
	Command string
	Args    []string
	// Env is appended to the environment of the helper.
	Env []string

	// Attempts per call, including the first. Defaults to 3.
	Attempts uint
	// Delay before the first retry, doubled on each subsequent one.
	Delay time.Duration
}

// Call invokes method with req and decodes the result into resp.
func (b *Bridge) Call(ctx context.Context, method string, req, resp interface{}) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("unable to marshal %s request: %w", method, err)
	}
	attempts := b.Attempts
	if attempts == 0 {
		attempts = defaultAttempts
	}
	delay := b.Delay
	if delay == 0 {
		delay = defaultDelay
	}
	return retry.Do(
		func() error {
			return b.call(ctx, method, body, resp)
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			glog.Warningf("%s attempt %d failed, retrying: %s", method, n+1, err)
		}),
	)
}

func (b *Bridge) call(ctx context.Context, method string, body []byte, resp interface{}) error {
	args := append(append([]string{}, b.Args...), method)
	cmd := exec.CommandContext(ctx, b.Command, args...)
	cmd.Stdin = bytes.NewReader(body)
	if len(b.Env) > 0 {
		cmd.Env = append(os.Environ(), b.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	glog.V(2).Infof("running helper: %q", cmd)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return retry.Unrecoverable(ctx.Err())
		}
		return fmt.Errorf("%s %s failed: %w: %s", b.Command, method, err, strings.TrimSpace(stderr.String()))
	}

	var env envelope
	if err := json.Unmarshal(stdout.Bytes(), &env); err != nil {
		return fmt.Errorf("%s %s returned invalid JSON: %w", b.Command, method, err)
	}
	if env.Error != "" {
		return retry.Unrecoverable(&HelperError{Method: method, Message: env.Error})
	}
	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(env.Result, resp); err != nil {
		return retry.Unrecoverable(fmt.Errorf("unable to decode %s result: %w", method, err))
	}
	return nil
}

type getDataResponse struct {
	Series map[string]*omega.TimeSeries `json:"series"`
}

// Get implements omega.DataSource.
func (b *Bridge) Get(ctx context.Context, req *omega.DataRequest) (map[string]*omega.TimeSeries, error) {
	var resp getDataResponse
	if err := b.Call(ctx, MethodGetData, req, &resp); err != nil {
		return nil, err
	}
	for name, ts := range resp.Series {
		if ts != nil && ts.Name == "" {
			ts.Name = name
		}
	}
	return resp.Series, nil
}

type checkFlagRequest struct {
	Flag     string  `json:"flag"`
	GPS      float64 `json:"gps"`
	Duration float64 `json:"duration"`
	Pad      float64 `json:"pad"`
}

type checkFlagResponse struct {
	Active bool `json:"active"`
}

// Active implements omega.FlagChecker: the flag must be active over all of
// duration seconds centred on gps, padded by pad either side.
func (b *Bridge) Active(ctx context.Context, flag string, gps, duration, pad float64) (bool, error) {
	var resp checkFlagResponse
	err := b.Call(ctx, MethodCheckFlag, &checkFlagRequest{Flag: flag, GPS: gps, Duration: duration, Pad: pad}, &resp)
	return resp.Active, err
}

// Primary implements omega.Transformer.
func (b *Bridge) Primary(ctx context.Context, req *omega.PrimaryRequest) (*omega.TimeSeries, error) {
	var ts omega.TimeSeries
	if err := b.Call(ctx, MethodPrimary, req, &ts); err != nil {
		return nil, err
	}
	return &ts, nil
}

// Scan implements omega.Transformer.
func (b *Bridge) Scan(ctx context.Context, req *omega.ScanRequest) (*omega.ScanResult, error) {
	var res omega.ScanResult
	if err := b.Call(ctx, MethodScan, req, &res); err != nil {
		return nil, err
	}
	if res.Whitened == nil {
		return nil, fmt.Errorf("%s: helper returned no whitened series", req.Data.Name)
	}
	return &res, nil
}

// WhitenBandpassRequest asks for a whitened, band-passed copy of a series.
type WhitenBandpassRequest struct {
	Data      *omega.TimeSeries `json:"data"`
	FLow      float64           `json:"flow"`
	FHigh     float64           `json:"fhigh"`
	FFTLength float64           `json:"fftlength"`
	Overlap   float64           `json:"overlap"`
}

// WhitenBandpass whitens ts and band-passes it to [flow, fhigh].
func (b *Bridge) WhitenBandpass(ctx context.Context, ts *omega.TimeSeries, flow, fhigh, fftlength, overlap float64) (*omega.TimeSeries, error) {
	var out omega.TimeSeries
	req := &WhitenBandpassRequest{Data: ts, FLow: flow, FHigh: fhigh, FFTLength: fftlength, Overlap: overlap}
	if err := b.Call(ctx, MethodWhitenBandpass, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
