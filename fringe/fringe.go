package main

/*
omega-fringe predicts the scattered-light fringe frequencies caused by the
motion of suspended optics around a GPS time, and lists the segments during
which any harmonic exceeds a threshold.
*/

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gwdetchar/omegascan/bridge"
	"github.com/gwdetchar/omegascan/gps"
	"github.com/gwdetchar/omegascan/omega"
	"github.com/gwdetchar/omegascan/plot"
	"github.com/gwdetchar/omegascan/scattering"
)

type options struct {
	GPS       float64
	IFO       string
	Optics    []string
	Duration  float64
	Threshold float64
	Frametype string
	NProc     int

	// Transmon enables band-limited RMS segments of the arm transmission
	// monitors above TransmonThreshold.
	Transmon          bool
	TransmonThreshold float64
	BLRMS             scattering.BLRMSOptions

	// PlotDir, when set, receives a plot of every predicted fringe.
	PlotDir string
}

type whitenerSource interface {
	omega.DataSource
	scattering.WhitenBandpasser
}

// result is one active segment of a predicted fringe or transmon BLRMS.
type result struct {
	Channel    string
	Multiplier float64
	Segment    scattering.Segment
}

func analyse(ctx context.Context, src whitenerSource, plotter omega.Plotter, opts *options) ([]result, error) {
	start, end := opts.GPS-opts.Duration/2, opts.GPS+opts.Duration/2

	var channels []string
	for _, optic := range opts.Optics {
		names, err := scattering.Channels(opts.IFO, optic)
		if err != nil {
			return nil, err
		}
		channels = append(channels, names...)
	}
	data, err := src.Get(ctx, &omega.DataRequest{
		Channels:  channels,
		Start:     start,
		End:       end,
		Frametype: opts.Frametype,
		NProc:     opts.NProc,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to read optic motion: %w", err)
	}

	var results []result
	for _, name := range channels {
		ts, err := omega.Lookup(data, name)
		if err != nil {
			glog.Warningf("Skipping %s: %s", name, err)
			continue
		}
		for _, m := range scattering.FrequencyMultipliers {
			fringe, err := scattering.FringeFrequency(ts, m)
			if err != nil {
				glog.Warningf("Skipping %s: %s", name, err)
				break
			}
			active := scattering.Segments(fringe, opts.Threshold, fmt.Sprintf("%s fringe x%g", name, m))
			glog.Infof(" -- %s: %.0fs above %g Hz", active.Name, active.Livetime(), opts.Threshold)
			for _, seg := range active.Active {
				results = append(results, result{Channel: name, Multiplier: m, Segment: seg})
			}
			if plotter != nil {
				file := plot.FileName(name, fmt.Sprintf("fringe_x%g", m), opts.Duration)
				if err := plotter.Timeseries(fringe, opts.GPS, opts.Duration, file, "Fringe frequency (Hz)"); err != nil {
					glog.Warningf("unable to plot %s: %s", file, err)
				}
			}
		}
	}

	if opts.Transmon {
		transmon, err := transmonSegments(ctx, src, opts, start, end)
		if err != nil {
			return nil, err
		}
		results = append(results, transmon...)
	}
	return results, nil
}

func transmonSegments(ctx context.Context, src whitenerSource, opts *options, start, end float64) ([]result, error) {
	channels := make([]string, len(scattering.TransmonChannels))
	for i, c := range scattering.TransmonChannels {
		channels[i] = opts.IFO + ":" + c
	}
	data, err := src.Get(ctx, &omega.DataRequest{
		Channels:  channels,
		Start:     start,
		End:       end,
		Frametype: opts.Frametype,
		NProc:     opts.NProc,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to read transmission monitors: %w", err)
	}
	var results []result
	for _, name := range channels {
		ts, err := omega.Lookup(data, name)
		if err != nil {
			glog.Warningf("Skipping %s: %s", name, err)
			continue
		}
		blrms, err := scattering.BLRMS(ctx, src, ts, opts.BLRMS)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			glog.Warningf("Skipping %s: %s", name, err)
			continue
		}
		active := scattering.Segments(blrms, opts.TransmonThreshold, name+" BLRMS")
		glog.Infof(" -- %s: %.0fs above %g", active.Name, active.Livetime(), opts.TransmonThreshold)
		for _, seg := range active.Active {
			results = append(results, result{Channel: name, Segment: seg})
		}
	}
	return results, nil
}

func writeCSV(out io.Writer, results []result) error {
	w := csv.NewWriter(out)
	if err := w.Write([]string{"Channel", "Multiplier", "Start", "End", "Duration"}); err != nil {
		return err
	}
	for _, r := range results {
		m := ""
		if r.Multiplier > 0 {
			m = strconv.FormatFloat(r.Multiplier, 'f', -1, 64)
		}
		line := []string{
			r.Channel,
			m,
			strconv.FormatFloat(r.Segment.Start, 'f', -1, 64),
			strconv.FormatFloat(r.Segment.End, 'f', -1, 64),
			strconv.FormatFloat(r.Segment.Duration(), 'f', -1, 64),
		}
		if err := w.Write(line); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:           "omega-fringe GPSTIME",
		Short:         "Predict scattered-light fringes from optic motion",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := newOptions(v, args[0])
			if err != nil {
				return err
			}
			fields := strings.Fields(v.GetString("helper"))
			if len(fields) == 0 {
				return fmt.Errorf("--helper must not be empty")
			}
			helper := &bridge.Bridge{Command: fields[0], Args: fields[1:]}

			var plotter omega.Plotter
			if opts.PlotDir != "" {
				if err := os.MkdirAll(opts.PlotDir, 0o755); err != nil {
					return err
				}
				r, err := plot.NewRenderer(opts.PlotDir, v.GetString("colormap"), "linear")
				if err != nil {
					return err
				}
				plotter = r
			}
			results, err := analyse(cmd.Context(), helper, plotter, opts)
			if err != nil {
				return err
			}
			return writeCSV(cmd.OutOrStdout(), results)
		},
	}
	fs := cmd.Flags()
	fs.StringP("ifo", "i", "", "interferometer prefix, e.g. H1")
	fs.StringSlice("optic", []string{"ETMX", "ETMY", "ITMX", "ITMY"}, fmt.Sprintf("optics to analyse (any of: %s)", strings.Join(scattering.Optics(), ", ")))
	fs.Float64("duration", 60, "seconds of data to analyse, centred on GPSTIME")
	fs.Float64("threshold", 15, "fringe frequency threshold in Hz")
	fs.String("frametype", "", "frame type of the optic motion data")
	fs.IntP("nproc", "j", 1, "number of processes to use when reading data")
	fs.Bool("transmon", false, "also report band-limited RMS of the arm transmission monitors")
	fs.Float64("transmon-threshold", 5, "threshold on the whitened transmon BLRMS")
	fs.Float64("blrms-flow", scattering.DefaultBLRMSOptions.FLow, "lower edge of the BLRMS band in Hz")
	fs.Float64("blrms-fhigh", scattering.DefaultBLRMSOptions.FHigh, "upper edge of the BLRMS band in Hz")
	fs.String("plot-dir", "", "directory to write fringe plots to (disabled if empty)")
	fs.StringP("colormap", "c", "viridis", "colormap of the plots")
	fs.String("helper", "omega-helper", "command (with arguments) of the spectral-analysis helper")
	fs.AddGoFlagSet(flag.CommandLine)

	v.SetEnvPrefix("omega")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("ifo", "OMEGA_IFO", "IFO"); err != nil {
		glog.Fatalf("unable to bind environment for ifo: %s", err)
	}
	if err := v.BindPFlags(fs); err != nil {
		glog.Fatalf("unable to bind flags: %s", err)
	}
	return cmd
}

func newOptions(v *viper.Viper, gpsArg string) (*options, error) {
	gpstime, err := gps.Parse(gpsArg)
	if err != nil {
		return nil, err
	}
	opts := &options{
		GPS:               gpstime,
		IFO:               v.GetString("ifo"),
		Optics:            v.GetStringSlice("optic"),
		Duration:          v.GetFloat64("duration"),
		Threshold:         v.GetFloat64("threshold"),
		Frametype:         v.GetString("frametype"),
		NProc:             v.GetInt("nproc"),
		Transmon:          v.GetBool("transmon"),
		TransmonThreshold: v.GetFloat64("transmon-threshold"),
		BLRMS: scattering.BLRMSOptions{
			FLow:  v.GetFloat64("blrms-flow"),
			FHigh: v.GetFloat64("blrms-fhigh"),
		},
		PlotDir: v.GetString("plot-dir"),
	}
	if opts.IFO == "" {
		return nil, fmt.Errorf("--ifo is required")
	}
	if opts.Duration <= 0 {
		return nil, fmt.Errorf("--duration must be positive, got %g", opts.Duration)
	}
	for _, o := range opts.Optics {
		if _, ok := scattering.OpticMotionChannels[o]; !ok {
			return nil, fmt.Errorf("unknown optic %q", o)
		}
	}
	return opts, nil
}

func main() {
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "true")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	glog.Flush()
	if err != nil {
		glog.Exit(err)
	}
}
