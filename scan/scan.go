// Package scan drives an Omega scan: it reads the configuration, acquires
// data block by block, hands every channel to the spectral-analysis library,
// cross-correlates against the primary channel, and keeps the report and the
// checkpoint record current after every channel.
package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang/glog"

	"github.com/gwdetchar/omegascan/checkpoint"
	"github.com/gwdetchar/omegascan/config"
	"github.com/gwdetchar/omegascan/correlation"
	"github.com/gwdetchar/omegascan/filter"
	"github.com/gwdetchar/omegascan/gps"
	"github.com/gwdetchar/omegascan/omega"
)

// Output subdirectories.
const (
	PlotDir  = "plots"
	AboutDir = "about"
	DataDir  = "data"

	SummaryFile = "summary.csv"
	PrimaryPlot = "primary.png"
)

// NoSignificantChannels is the reason given on the report when nothing was found.
const NoSignificantChannels = "No significant channels found during active analysis segments"

// Defaults for Options.
const (
	DefaultIFO              = "Network"
	DefaultFARThreshold     = 3.171e-8
	DefaultFrequencyScaling = "log"
	DefaultColormap         = "viridis"
)

// flagPad is the padding in seconds applied when querying state flags.
const flagPad = 1.0

// Options select what to scan and how.
type Options struct {
	RunID       string
	GPS         float64
	IFO         string
	OutputDir   string
	ConfigFiles []string

	DisableCorrelation bool
	DisableCheckpoint  bool
	IgnoreStateFlags   bool

	// FARThreshold is the white noise false alarm rate in Hz at or above
	// which a channel is considered insignificant.
	FARThreshold     float64
	FrequencyScaling string
	Colormap         string
	NProc            int

	Filters []filter.Filterer
}

// DefaultOutputDir is ~/public_html/wdq/{ifo}_{gps}.
func DefaultOutputDir(ifo string, gpstime float64) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "public_html", "wdq", fmt.Sprintf("%s_%s", ifo, gps.Format(gpstime))), nil
}

// Scanner runs a scan against its collaborators.
type Scanner struct {
	Options

	Data      omega.DataSource
	Flags     omega.FlagChecker
	Transform omega.Transformer
	Plot      omega.Plotter
	Report    omega.Reporter

	// Summaries, when set, receives every newly analysed channel. It is not
	// closed by Run.
	Summaries chan<- omega.Summary
}

// run is the state of a single Run.
type run struct {
	*Scanner

	page    *omega.Page
	record  *checkpoint.Record
	matched *omega.TimeSeries
	summary string
}

// Run performs the scan.
func (s *Scanner) Run(ctx context.Context) error {
	if s.IFO == "" {
		s.IFO = DefaultIFO
	}
	s.GPS = gps.Round(s.GPS, 2)
	glog.Infof("%s Omega Scan %s", s.IFO, gps.Format(s.GPS))

	glog.V(1).Info("Parsing the following configuration files:")
	for _, f := range s.ConfigFiles {
		glog.V(1).Infof(" -- %s", f)
	}
	cfg, err := config.Load(s.IFO, s.ConfigFiles...)
	if err != nil {
		return err
	}

	correlate := !s.DisableCorrelation
	var primary *omega.Primary
	if correlate {
		primary, err = cfg.Primary()
		switch {
		case errors.Is(err, config.ErrNoSection):
			glog.Warning("No primary configured, continuing without cross-correlation")
			correlate = false
		case err != nil:
			return err
		}
	}
	blocks, err := cfg.Blocks()
	if err != nil {
		return err
	}
	if len(s.Filters) > 0 {
		blocks = filter.Filter(blocks, s.Filters)
	}

	if err := makeDirs(s.OutputDir); err != nil {
		return err
	}
	glog.V(1).Infof("Output directory created as %s", s.OutputDir)

	r := &run{
		Scanner: s,
		summary: filepath.Join(s.OutputDir, DataDir, SummaryFile),
		page: &omega.Page{
			RunID:   s.RunID,
			IFO:     s.IFO,
			GPS:     s.GPS,
			Title:   fmt.Sprintf("%s Qscan | %s", s.IFO, gps.Format(s.GPS)),
			Configs: s.ConfigFiles,
			Refresh: true,
			TOC:     omega.NewTOC(),
			Params:  s.params(correlate),
		},
	}
	if r.record, err = r.loadRecord(correlate); err != nil {
		return err
	}

	glog.V(1).Infof("Setting up HTML at %s/index.html", s.OutputDir)
	if err := s.Report.WriteAbout(r.page); err != nil {
		return err
	}
	if err := s.Report.WriteQScanPage(r.page); err != nil {
		return err
	}

	glog.Info("Launching omega scans")
	if correlate {
		if err := r.processPrimary(ctx, primary); err != nil {
			return err
		}
	}
	for _, block := range blocks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.processBlock(ctx, block); err != nil {
			return err
		}
	}

	glog.V(1).Infof("Finalizing HTML at %s/index.html", s.OutputDir)
	r.page.Refresh = false
	if r.page.TOC.Len() > 0 {
		err = s.Report.WriteQScanPage(r.page)
	} else {
		err = s.Report.WriteNullPage(r.page, NoSignificantChannels)
	}
	if err != nil {
		return err
	}
	glog.Info("-- index.html written, all done --")
	return nil
}

func makeDirs(outdir string) error {
	for _, d := range []string{PlotDir, AboutDir, DataDir} {
		if err := os.MkdirAll(filepath.Join(outdir, d), 0o755); err != nil {
			return fmt.Errorf("unable to create output directory: %w", err)
		}
	}
	return nil
}

func (s *Scanner) params(correlate bool) map[string]string {
	return map[string]string{
		"far-threshold":     strconv.FormatFloat(s.FARThreshold, 'g', -1, 64),
		"frequency-scaling": s.FrequencyScaling,
		"colormap":          s.Colormap,
		"correlation":       strconv.FormatBool(correlate),
		"checkpoint":        strconv.FormatBool(!s.DisableCheckpoint),
		"state-flags":       strconv.FormatBool(!s.IgnoreStateFlags),
		"nproc":             strconv.Itoa(s.NProc),
	}
}

// loadRecord returns the checkpoint record of a previous run, or an empty
// one when there is none or checkpointing is disabled.
func (r *run) loadRecord(correlate bool) (*checkpoint.Record, error) {
	if r.DisableCheckpoint {
		return checkpoint.Empty(), nil
	}
	record, err := checkpoint.Read(r.summary)
	switch {
	case os.IsNotExist(err):
		return checkpoint.Empty(), nil
	case err != nil:
		return nil, err
	}
	glog.V(1).Infof("Checkpointing from %s", r.summary)
	if correlate && !record.HasCorrelation() {
		return nil, checkpoint.ErrNoCorrelation
	}
	return record, nil
}

// processPrimary builds the matched filter all channels are correlated against.
func (r *run) processPrimary(ctx context.Context, p *omega.Primary) error {
	glog.V(1).Info("Processing primary channel")
	name := p.Channel().Name
	start, end := p.Window(r.GPS)
	data, err := r.Data.Get(ctx, &omega.DataRequest{
		Channels:  []string{name},
		Start:     start,
		End:       end,
		Frametype: p.Frametype,
		Source:    p.Source,
		NProc:     r.NProc,
	})
	if err != nil {
		return fmt.Errorf("unable to read primary channel %s: %w", name, err)
	}
	ts, err := omega.Lookup(data, name)
	if err != nil {
		return err
	}
	r.matched, err = r.Transform.Primary(ctx, &omega.PrimaryRequest{
		GPS:       r.GPS,
		Length:    p.Length,
		Data:      ts,
		FFTLength: p.FFTLength,
		Resample:  p.Resample,
		FLow:      p.FLow,
	})
	if err != nil {
		return fmt.Errorf("unable to process primary channel %s: %w", name, err)
	}
	if err := r.Plot.Timeseries(r.matched, r.GPS, p.Length, PrimaryPlot, "Whitened Amplitude"); err != nil {
		return err
	}
	r.page.Correlated = true
	r.page.Primary = name
	return nil
}

func (r *run) processBlock(ctx context.Context, block *omega.ChannelList) error {
	glog.V(1).Infof("Processing block %s", block.Key)
	if block.Flag != "" && !r.IgnoreStateFlags {
		glog.Infof(" -- Querying state flag %s", block.Flag)
		active, err := r.Flags.Active(ctx, block.Flag, r.GPS, block.Duration, flagPad)
		if err != nil {
			return fmt.Errorf("unable to query state flag %s: %w", block.Flag, err)
		}
		if !active {
			glog.Infof(" -- %s not active, skipping block", block.Flag)
			return nil
		}
	}

	var data map[string]*omega.TimeSeries
	if !r.allCompleted(block) {
		start, end := block.Window(r.GPS)
		var err error
		data, err = r.Data.Get(ctx, &omega.DataRequest{
			Channels:  block.ChannelNames(),
			Start:     start,
			End:       end,
			Frametype: block.Frametype,
			Source:    block.Source,
			NProc:     r.NProc,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			glog.Warningf("unable to read data for block %s: %s", block.Key, err)
		}
	}

	for _, c := range block.Channels {
		if r.record.Completed(c.Name) {
			glog.Infof(" -- Checkpointing %s from a previous run", c.Name)
			if err := r.record.Load(c, r.matched != nil); err != nil {
				return err
			}
			r.page.TOC.Add(block.Name, c)
			if err := r.Report.WriteQScanPage(r.page); err != nil {
				return err
			}
			continue
		}

		significant, err := r.processChannel(ctx, block, c, data)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			glog.Warningf("Skipping %s: %s", c.Name, err)
			continue
		case !significant:
			glog.Warningf(" -- Channel not significant at white noise false alarm rate %g Hz", r.FARThreshold)
			continue
		}
		if err := r.analysed(ctx, block, c); err != nil {
			return err
		}
	}
	return nil
}

func (r *run) allCompleted(block *omega.ChannelList) bool {
	for _, c := range block.Channels {
		if !r.record.Completed(c.Name) {
			return false
		}
	}
	return true
}

// processChannel scans c and fills in its results. It reports false when the
// loudest tile is not significant.
func (r *run) processChannel(ctx context.Context, block *omega.ChannelList, c *omega.Channel, data map[string]*omega.TimeSeries) (bool, error) {
	ts, err := omega.Lookup(data, c.Name)
	if err != nil {
		return false, err
	}
	glog.Infof(" -- Scanning channel %s", c.Name)
	res, err := r.Transform.Scan(ctx, omega.NewScanRequest(r.GPS, block, ts, r.FrequencyScaling == "log"))
	if err != nil {
		return false, err
	}
	if res.FAR >= r.FARThreshold && !block.AlwaysPlot {
		return false, nil
	}

	glog.Infof(" -- Plotting omega scan products for %s", c.Name)
	if err := r.Plot.QScan(r.GPS, c, res); err != nil {
		return false, err
	}
	c.Tile = res.Loudest.Rounded()

	if r.matched != nil {
		glog.Infof(" -- Cross-correlating %s", c.Name)
		corr, err := correlation.CrossCorrelate(res.Whitened, r.matched)
		if err != nil {
			return false, err
		}
		c.Correlation = correlation.Features(corr, r.GPS, block.MaxDelay)
	}
	return true, nil
}

// analysed records a freshly scanned channel everywhere it needs to appear.
func (r *run) analysed(ctx context.Context, block *omega.ChannelList, c *omega.Channel) error {
	r.page.TOC.Add(block.Name, c)
	if err := r.record.Write(r.summary, r.page.TOC.All(), r.matched != nil); err != nil {
		return fmt.Errorf("unable to write checkpoint: %w", err)
	}
	if r.Summaries != nil {
		summary := omega.Summary{
			RunID:       r.RunID,
			IFO:         r.IFO,
			GPS:         r.GPS,
			Block:       block.Name,
			Channel:     c.Name,
			Tile:        c.Tile,
			Correlation: c.Correlation,
		}
		select {
		case r.Summaries <- summary:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return r.Report.WriteQScanPage(r.page)
}
