package main

/*
omega-render draws a glitchgram of the loudest tiles collected by
omega-server or `omega --output sqlite`: every analysed channel is a dot at
its central time and frequency, coloured by SNR.
*/

import (
	"context"
	"flag"
	"path/filepath"

	"github.com/golang/glog"

	"github.com/gwdetchar/omegascan/export"
	"github.com/gwdetchar/omegascan/gps"
	"github.com/gwdetchar/omegascan/plot"
)

// Flags
var (
	sqliteFile   = flag.String("sqliteFile", "/tmp/omega.db", "File path of the sqlite DB file to use.")
	ifo          = flag.String("ifo", "", "Select summaries of this interferometer.")
	runID        = flag.String("run", "", "Select summaries of this run.")
	startTimeRaw = flag.String("startTime", "", "Select summaries of scans at or after this GPS time or date.")
	endTimeRaw   = flag.String("endTime", "", "Select summaries of scans before this GPS time or date.")
	colormap     = flag.String("colormap", "viridis", "Colormap of the SNR scale.")
	imgPath      = flag.String("imgPath", "/tmp/glitchgram.png", "Path where the rendered image should be written to (.png or .jpg).")
	imgWidth     = flag.Int("imgWidth", 640, "Width of output image in pixels.")
	imgHeight    = flag.Int("imgHeight", 480, "Height of output image in pixels.")
)

func parseTime(name, raw string) float64 {
	if raw == "" {
		return 0
	}
	t, err := gps.Parse(raw)
	if err != nil {
		glog.Fatalf("unable to parse %s (value: %q): %s", name, raw, err)
	}
	return t
}

func main() {
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "false")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	// Parse flags globally.
	flag.Parse()

	q := export.Query{
		RunID: *runID,
		IFO:   *ifo,
		Start: parseTime("startTime", *startTimeRaw),
		End:   parseTime("endTime", *endTimeRaw),
	}

	db, err := export.Open(export.DriverSQLite, *sqliteFile)
	if err != nil {
		glog.Fatalf("unable to open sqlite DB %q: %s", *sqliteFile, err)
	}
	defer db.Close()

	summaries, err := db.Summaries(context.Background(), q)
	if err != nil {
		glog.Fatal(err)
	}
	glog.Infof("rendering %d summaries", len(summaries))

	r, err := plot.NewRenderer(filepath.Dir(*imgPath), *colormap, "log")
	if err != nil {
		glog.Fatal(err)
	}
	r.Width, r.Height = *imgWidth, *imgHeight
	if err := r.Glitchgram(summaries, filepath.Base(*imgPath)); err != nil {
		glog.Fatal(err)
	}
	glog.Flush()
}
