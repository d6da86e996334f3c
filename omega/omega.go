// Package omega holds the types shared by the scan driver and the narrow
// interfaces through which it reaches its external collaborators.
package omega

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrChannelMissing is returned when a requested channel is absent from the
// data returned by a DataSource.
var ErrChannelMissing = errors.New("channel missing from data")

// Tile describes the loudest time-frequency tile of a Q-transform.
type Tile struct {
	Time      float64 `json:"time"`
	Frequency float64 `json:"frequency"`
	Q         float64 `json:"q"`
	Energy    float64 `json:"energy"`
	SNR       float64 `json:"snr"`
}

// Correlation holds the loudest cross-correlation against the primary channel.
type Correlation struct {
	Max    float64 `json:"max"`
	StdDev float64 `json:"stdDev"`
	// Delay is the offset of the loudest correlation from the trigger time in ms.
	Delay float64 `json:"delay"`
}

// Significance is the loudest correlation in units of standard deviations.
func (c *Correlation) Significance() float64 {
	if c == nil || c.StdDev == 0 {
		return 0
	}
	return c.Max / c.StdDev
}

// Range is a closed interval whose bounds may be infinite. Infinite bounds
// are encoded in JSON as the strings "inf" and "-inf".
type Range [2]float64

func (r Range) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{jsonBound(r[0]), jsonBound(r[1])})
}

func jsonBound(v float64) interface{} {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return v
}

func (r *Range) UnmarshalJSON(b []byte) error {
	var raw [2]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for i, rb := range raw {
		var s string
		if err := json.Unmarshal(rb, &s); err == nil {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("invalid range bound %q", s)
			}
			r[i] = v
			continue
		}
		if err := json.Unmarshal(rb, &r[i]); err != nil {
			return err
		}
	}
	return nil
}

// Channel is a single channel of a block together with the results of its scan.
type Channel struct {
	Name    string `json:"name"`
	Section string `json:"section"`

	Tile        Tile         `json:"tile"`
	Correlation *Correlation `json:"correlation,omitempty"`

	// Plots maps a product kind (e.g. "qscan_whitened") to the files rendered
	// for it, one per plot duration.
	Plots map[string][]string `json:"plots,omitempty"`
}

// ChannelList is a contextual block of channels sharing processing options.
type ChannelList struct {
	Key  string
	Name string

	// Duration is the amount of data in seconds centred on the trigger time.
	Duration  float64
	FFTLength float64
	Resample  int

	Source    string
	Frametype string
	Flag      string

	// Search is the window in seconds around the trigger time in which the
	// loudest tile is sought.
	Search float64
	// MaxDelay is the window in seconds around the trigger time in which the
	// loudest cross-correlation is sought.
	MaxDelay float64

	FRange       Range
	QRange       Range
	Mismatch     float64
	SNRThreshold float64

	PlotDurations []float64
	AlwaysPlot    bool

	Channels []*Channel
}

// ChannelNames returns the names of all channels in the block, in order.
func (cl *ChannelList) ChannelNames() []string {
	names := make([]string, 0, len(cl.Channels))
	for _, c := range cl.Channels {
		names = append(names, c.Name)
	}
	return names
}

// Window returns the span of data to acquire for the block: Duration seconds
// centred on gps with one second of padding either side.
func (cl *ChannelList) Window(gps float64) (float64, float64) {
	return gps - cl.Duration/2 - 1, gps + cl.Duration/2 + 1
}

// Primary is the block holding the single channel used as matched filter.
type Primary struct {
	ChannelList

	// Length is the span in seconds of the whitened primary kept as filter.
	Length float64
	FLow   float64
}

// Channel returns the primary channel.
func (p *Primary) Channel() *Channel {
	if len(p.Channels) == 0 {
		return nil
	}
	return p.Channels[0]
}

// Summary is the exported record of an analysed channel.
type Summary struct {
	RunID   string  `json:"runId"`
	IFO     string  `json:"ifo"`
	GPS     float64 `json:"gps"`
	Block   string  `json:"block"`
	Channel string  `json:"channel"`

	Tile        Tile         `json:"tile"`
	Correlation *Correlation `json:"correlation,omitempty"`
}

// DataRequest selects data for one or more channels.
type DataRequest struct {
	Channels  []string `json:"channels"`
	Start     float64  `json:"start"`
	End       float64  `json:"end"`
	Frametype string   `json:"frametype,omitempty"`
	Source    string   `json:"source,omitempty"`
	NProc     int      `json:"nproc"`
}

// DataSource retrieves detector data.
type DataSource interface {
	Get(ctx context.Context, req *DataRequest) (map[string]*TimeSeries, error)
}

// Lookup returns the series for name or ErrChannelMissing.
func Lookup(data map[string]*TimeSeries, name string) (*TimeSeries, error) {
	ts, ok := data[name]
	if !ok || ts == nil || ts.Len() == 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrChannelMissing)
	}
	return ts, nil
}

// FlagChecker reports whether a state flag is active over a span.
type FlagChecker interface {
	Active(ctx context.Context, flag string, gps, duration, pad float64) (bool, error)
}

// PrimaryRequest asks for the matched filter built from the primary channel.
type PrimaryRequest struct {
	GPS       float64     `json:"gps"`
	Length    float64     `json:"length"`
	Data      *TimeSeries `json:"data"`
	FFTLength float64     `json:"fftlength"`
	Resample  int         `json:"resample,omitempty"`
	FLow      float64     `json:"flow,omitempty"`
}

// ScanRequest asks for the Q-transform of a single channel.
type ScanRequest struct {
	GPS           float64     `json:"gps"`
	Data          *TimeSeries `json:"data"`
	FFTLength     float64     `json:"fftlength"`
	Resample      int         `json:"resample,omitempty"`
	Search        float64     `json:"search"`
	LogF          bool        `json:"logf"`
	QRange        Range       `json:"qrange"`
	FRange        Range       `json:"frange"`
	Mismatch      float64     `json:"mismatch"`
	SNRThreshold  float64     `json:"snrThreshold"`
	PlotDurations []float64   `json:"plotDurations"`
}

// NewScanRequest builds the request for a channel of block cl.
func NewScanRequest(gps float64, cl *ChannelList, data *TimeSeries, logf bool) *ScanRequest {
	return &ScanRequest{
		GPS:           gps,
		Data:          data,
		FFTLength:     cl.FFTLength,
		Resample:      cl.Resample,
		Search:        cl.Search,
		LogF:          logf,
		QRange:        cl.QRange,
		FRange:        cl.FRange,
		Mismatch:      cl.Mismatch,
		SNRThreshold:  cl.SNRThreshold,
		PlotDurations: cl.PlotDurations,
	}
}

// ScanResult holds the products of a Q-transform.
type ScanResult struct {
	Raw        *TimeSeries    `json:"raw"`
	Highpassed *TimeSeries    `json:"highpassed"`
	Whitened   *TimeSeries    `json:"whitened"`
	QGrams     []*Spectrogram `json:"qgrams"`
	Loudest    Tile           `json:"loudest"`
	// FAR is the white noise false alarm rate of the loudest tile in Hz.
	FAR float64 `json:"far"`
}

// Transformer is the external spectral-analysis library.
type Transformer interface {
	Primary(ctx context.Context, req *PrimaryRequest) (*TimeSeries, error)
	Scan(ctx context.Context, req *ScanRequest) (*ScanResult, error)
}

// Plotter renders scan products to image files.
type Plotter interface {
	// Timeseries plots span seconds of ts around gps into file.
	Timeseries(ts *TimeSeries, gps, span float64, file, ylabel string) error
	// QScan plots all products of res and records the files in c.Plots.
	QScan(gps float64, c *Channel, res *ScanResult) error
}

// Page carries everything a Reporter needs to render the scan index.
type Page struct {
	RunID      string
	IFO        string
	GPS        float64
	Title      string
	Configs    []string
	Refresh    bool
	Correlated bool
	Primary    string
	TOC        *TOC

	// Params are the processing options of the run, shown on the about page.
	Params map[string]string
}

// Reporter writes the scan report.
type Reporter interface {
	WriteQScanPage(p *Page) error
	WriteNullPage(p *Page, reason string) error
	WriteAbout(p *Page) error
}

// Rounded returns t rounded the way tile features are recorded: time to the
// millisecond, everything else to one decimal.
func (t Tile) Rounded() Tile {
	return Tile{
		Time:      round(t.Time, 3),
		Frequency: round(t.Frequency, 1),
		Q:         round(t.Q, 1),
		Energy:    round(t.Energy, 1),
		SNR:       round(t.SNR, 1),
	}
}

func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
