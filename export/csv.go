package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/gwdetchar/omegascan/omega"
)

var csvHeader = []string{
	"RunID",
	"IFO",
	"GPS",
	"Block",
	"Channel",
	"CentralTime",
	"CentralFrequency",
	"Q",
	"Energy",
	"SNR",
	"Correlation",
	"StdDev",
	"DelayMilli",
}

// CSV writes one line per summary, to stdout unless W is set.
type CSV struct {
	W io.Writer
}

func (c *CSV) Write(ctx context.Context, summaries <-chan omega.Summary) error {
	out := c.W
	if out == nil {
		out = os.Stdout
	}
	w := csv.NewWriter(out)
	if err := w.Write(csvHeader); err != nil {
		return err
	}

	for s := range summaries {
		if err := w.Write(csvRecord(s)); err != nil {
			return fmt.Errorf("error while writing CSV line: %w", err)
		}

		w.Flush()
		if err := w.Error(); err != nil {
			return fmt.Errorf("error flushing CSV: %w", err)
		}
	}
	return nil
}

func csvRecord(s omega.Summary) []string {
	rec := []string{
		s.RunID,
		s.IFO,
		formatFloat(s.GPS),
		s.Block,
		s.Channel,
		formatFloat(s.Tile.Time),
		formatFloat(s.Tile.Frequency),
		formatFloat(s.Tile.Q),
		formatFloat(s.Tile.Energy),
		formatFloat(s.Tile.SNR),
		"", "", "",
	}
	if c := s.Correlation; c != nil {
		rec[10] = formatFloat(c.Max)
		rec[11] = formatFloat(c.StdDev)
		rec[12] = formatFloat(c.Delay)
	}
	return rec
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
