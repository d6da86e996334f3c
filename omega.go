package main

/*
omega scans the channels configured for an interferometer around a GPS time
and publishes an HTML report of every channel with significant excess power.
*/

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/gwdetchar/omegascan/bridge"
	"github.com/gwdetchar/omegascan/config"
	"github.com/gwdetchar/omegascan/export"
	"github.com/gwdetchar/omegascan/filter"
	"github.com/gwdetchar/omegascan/gps"
	"github.com/gwdetchar/omegascan/omega"
	"github.com/gwdetchar/omegascan/plot"
	"github.com/gwdetchar/omegascan/report"
	"github.com/gwdetchar/omegascan/scan"
)

const (
	defaultConfigDir = "/etc/omegascan"
	defaultHelper    = "omega-helper"
)

var rootLong = `Compute Omega scans of the auxiliary channels of an interferometer around
GPSTIME (a GPS time or date string) and write an HTML report to the output
directory. Options may also be set in the environment as OMEGA_<FLAG>, with
dashes replaced by underscores; the interferometer also honours IFO.`

var rootExample = `  # scan GW150914 in LIGO-Hanford with the default configuration
  omega 1126259462.4 --ifo H1

  # scan with a custom configuration and store the results in sqlite
  omega "2017-08-17 12:41:04" -i L1 -f my-channels.ini --output sqlite`

// envBindings maps config keys to environment variables read in addition to
// the automatic OMEGA_ ones.
var envBindings = map[string][]string{
	"ifo": {"OMEGA_IFO", "IFO"},
}

type app struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	_, cmd := newApp()
	return cmd
}

func newApp() (*app, *cobra.Command) {
	a := &app{v: viper.New()}
	cmd := &cobra.Command{
		Use:           "omega GPSTIME",
		Short:         "Compute Omega scans of interferometer channels",
		Long:          rootLong,
		Example:       rootExample,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), args[0])
		},
	}
	a.registerFlags(cmd.Flags())
	// glog flags (-v, -logtostderr, ...) live on the std flag set.
	cmd.Flags().AddGoFlagSet(flag.CommandLine)

	a.v.SetEnvPrefix("omega")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	for key, envs := range envBindings {
		if err := a.v.BindEnv(append([]string{key}, envs...)...); err != nil {
			glog.Fatalf("unable to bind environment for %s: %s", key, err)
		}
	}
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		glog.Fatalf("unable to bind flags: %s", err)
	}
	return a, cmd
}

func (a *app) registerFlags(fs *pflag.FlagSet) {
	fs.StringP("ifo", "i", "", fmt.Sprintf("interferometer prefix, e.g. H1 (default %q)", scan.DefaultIFO))
	fs.StringP("output-directory", "o", "", "output directory for the scan (default ~/public_html/wdq/{IFO}_{GPSTIME})")
	fs.StringSliceP("config-file", "f", nil, "path to configuration file to use, can be given multiple times (files read in order)")
	fs.String("config-dir", defaultConfigDir, "directory holding the default {IFO}-{epoch}.ini configurations")
	fs.BoolP("disable-correlation", "d", false, "disable cross-correlation of aux channels")
	fs.BoolP("disable-checkpoint", "D", false, "disable checkpointing from previous runs")
	fs.BoolP("ignore-state-flags", "s", false, "ignore state flag definitions in the configuration")
	fs.Float64P("far-threshold", "t", scan.DefaultFARThreshold, "white noise false alarm rate threshold (Hz) for processing channels")
	fs.StringP("frequency-scaling", "y", scan.DefaultFrequencyScaling, "scaling of all frequency axes (one of: log, linear)")
	fs.StringP("colormap", "c", scan.DefaultColormap, fmt.Sprintf("name of colormap to use (one of: %s)", strings.Join(plot.Colormaps(), ", ")))
	fs.IntP("nproc", "j", 1, "number of processes to use when reading data")
	fs.String("include", "", "only scan channels matching this regular expression")
	fs.String("exclude", "", "skip channels matching this regular expression")

	// Helper
	fs.String("helper", defaultHelper, "command (with arguments) of the spectral-analysis helper")
	fs.Uint("helper-attempts", 3, "attempts per helper call before giving up")
	fs.Duration("helper-delay", 2*time.Second, "delay before retrying a failed helper call")

	// Export
	fs.String("output", "none", "export mechanism for channel summaries (one of: none, csv, sqlite, mysql, server)")
	fs.String("sqlite-file", "/tmp/omega.db", "file path of the sqlite DB file to use")
	fs.String("mysql-server", "127.0.0.1:3306", "MySQL TCP server endpoint to connect to (IP/DNS and port)")
	fs.String("mysql-user", "", "MySQL DB user")
	fs.String("mysql-password-file", "", "path to the file containing the password for the MySQL user")
	fs.String("mysql-db", "omega", "name of the DB to use")
	fs.String("server", "http://localhost:8443", "omega-server to submit summaries to")
}

// options resolves the scan options for gpsArg from flags and environment.
func (a *app) options(gpsArg string) (*scan.Options, error) {
	gpstime, err := gps.Parse(gpsArg)
	if err != nil {
		return nil, err
	}
	gpstime = gps.Round(gpstime, 2)
	opts := &scan.Options{
		RunID:              uuid.New().String(),
		GPS:                gpstime,
		IFO:                a.v.GetString("ifo"),
		OutputDir:          a.v.GetString("output-directory"),
		ConfigFiles:        a.v.GetStringSlice("config-file"),
		DisableCorrelation: a.v.GetBool("disable-correlation"),
		DisableCheckpoint:  a.v.GetBool("disable-checkpoint"),
		IgnoreStateFlags:   a.v.GetBool("ignore-state-flags"),
		FARThreshold:       a.v.GetFloat64("far-threshold"),
		FrequencyScaling:   a.v.GetString("frequency-scaling"),
		Colormap:           a.v.GetString("colormap"),
		NProc:              a.v.GetInt("nproc"),
	}
	if opts.IFO == "" {
		opts.IFO = scan.DefaultIFO
	}
	if opts.NProc < 1 {
		return nil, fmt.Errorf("--nproc must be positive, got %d", opts.NProc)
	}
	if opts.FARThreshold <= 0 {
		return nil, fmt.Errorf("--far-threshold must be positive, got %g", opts.FARThreshold)
	}

	if len(opts.ConfigFiles) == 0 {
		if opts.ConfigFiles, err = config.DefaultConfiguration(a.v.GetString("config-dir"), opts.IFO, gpstime); err != nil {
			return nil, err
		}
	}
	for i, f := range opts.ConfigFiles {
		if opts.ConfigFiles[i], err = filepath.Abs(f); err != nil {
			return nil, err
		}
	}

	if opts.OutputDir == "" {
		if opts.OutputDir, err = scan.DefaultOutputDir(opts.IFO, gpstime); err != nil {
			return nil, err
		}
	}
	if opts.OutputDir, err = filepath.Abs(opts.OutputDir); err != nil {
		return nil, err
	}

	include, exclude := a.v.GetString("include"), a.v.GetString("exclude")
	if include != "" || exclude != "" {
		p, err := filter.NewFilterPattern(include, exclude)
		if err != nil {
			return nil, err
		}
		opts.Filters = append(opts.Filters, p)
	}
	return opts, nil
}

func (a *app) helper() (*bridge.Bridge, error) {
	fields := strings.Fields(a.v.GetString("helper"))
	if len(fields) == 0 {
		return nil, fmt.Errorf("--helper must not be empty")
	}
	return &bridge.Bridge{
		Command:  fields[0],
		Args:     fields[1:],
		Attempts: a.v.GetUint("helper-attempts"),
		Delay:    a.v.GetDuration("helper-delay"),
	}, nil
}

func (a *app) exporter() (export.Exporter, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(a.v.GetString("output")) {
	case "", "none":
		return export.Discard{}, noop, nil
	case "csv":
		return &export.CSV{}, noop, nil
	case "sqlite":
		db, err := export.Open(export.DriverSQLite, a.v.GetString("sqlite-file"))
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open sqlite DB %q: %w", a.v.GetString("sqlite-file"), err)
		}
		return db, db.Close, nil
	case "mysql":
		pass, err := os.ReadFile(a.v.GetString("mysql-password-file"))
		if err != nil {
			return nil, nil, fmt.Errorf("unable to read MySQL password file: %w", err)
		}
		cfg := mysql.NewConfig()
		cfg.User = a.v.GetString("mysql-user")
		cfg.Passwd = strings.TrimSpace(string(pass))
		cfg.Net = "tcp"
		cfg.Addr = a.v.GetString("mysql-server")
		cfg.DBName = a.v.GetString("mysql-db")
		db, err := export.Open(export.DriverMySQL, cfg.FormatDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open MySQL DB %q: %w", cfg.Addr, err)
		}
		return db, db.Close, nil
	case "server":
		return &export.Server{Server: a.v.GetString("server")}, noop, nil
	}
	return nil, nil, fmt.Errorf("%q is not a supported export method, pick one of: none, csv, sqlite, mysql, server", a.v.GetString("output"))
}

func (a *app) run(ctx context.Context, gpsArg string) error {
	opts, err := a.options(gpsArg)
	if err != nil {
		return err
	}
	helper, err := a.helper()
	if err != nil {
		return err
	}
	renderer, err := plot.NewRenderer(filepath.Join(opts.OutputDir, scan.PlotDir), opts.Colormap, opts.FrequencyScaling)
	if err != nil {
		return err
	}
	exporter, closeExporter, err := a.exporter()
	if err != nil {
		return err
	}
	defer closeExporter()

	// Export summaries while scanning. An export failure cancels the scan.
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	summaries := make(chan omega.Summary, 100)
	exported := make(chan error, 1)
	go func() {
		err := exporter.Write(ctx, summaries)
		if err != nil {
			err = fmt.Errorf("unable to export summaries: %w", err)
			cancel(err)
		}
		for range summaries {
		}
		exported <- err
	}()

	s := &scan.Scanner{
		Options:   *opts,
		Data:      helper,
		Flags:     helper,
		Transform: helper,
		Plot:      renderer,
		Report:    report.New(opts.OutputDir),
		Summaries: summaries,
	}
	glog.V(1).Infof("Run %s writing to %s", opts.RunID, opts.OutputDir)
	scanErr := s.Run(ctx)
	close(summaries)
	if err := <-exported; err != nil {
		return err
	}
	return scanErr
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
