// Package checkpoint reads and writes the per-run summary record that lets
// an interrupted scan resume without re-analysing finished channels.
package checkpoint

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang/glog"

	"github.com/gwdetchar/omegascan/omega"
)

// Column names of the summary record.
const (
	ColChannel     = "Channel"
	ColTime        = "Central Time"
	ColFrequency   = "Central Frequency (Hz)"
	ColQ           = "Q"
	ColEnergy      = "Energy"
	ColSNR         = "SNR"
	ColCorrelation = "Correlation"
	ColStdDev      = "Standard Deviation"
	ColDelay       = "Delay (ms)"
)

var (
	tileColumns        = []string{ColChannel, ColTime, ColFrequency, ColQ, ColEnergy, ColSNR}
	correlationColumns = []string{ColCorrelation, ColStdDev, ColDelay}
)

// ErrNoCorrelation is returned when resuming a correlated scan from a record
// written without correlation.
var ErrNoCorrelation = errors.New("cross-correlation is not available from this record, consider running without correlation or starting from scratch with --disable-checkpoint")

// Record is a parsed summary record.
type Record struct {
	columns map[string]bool
	order   []string
	rows    map[string]map[string]string
}

// Empty returns a record with no completed channels.
func Empty() *Record {
	return &Record{columns: map[string]bool{}, rows: map[string]map[string]string{}}
}

// Read parses the record at path.
func Read(path string) (*Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	lines, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("unable to parse record %q: %w", path, err)
	}
	r := Empty()
	if len(lines) == 0 {
		return r, nil
	}
	header := lines[0]
	for _, col := range header {
		r.columns[col] = true
	}
	if !r.columns[ColChannel] {
		return nil, fmt.Errorf("record %q has no %q column", path, ColChannel)
	}
	for _, line := range lines[1:] {
		row := map[string]string{}
		for i, col := range header {
			if i < len(line) {
				row[col] = line[i]
			}
		}
		name := row[ColChannel]
		if _, dup := r.rows[name]; !dup {
			r.order = append(r.order, name)
		}
		r.rows[name] = row
	}
	return r, nil
}

// Channels returns the completed channel names in record order.
func (r *Record) Channels() []string {
	return r.order
}

// Completed reports whether name was analysed by a previous run.
func (r *Record) Completed(name string) bool {
	_, ok := r.rows[name]
	return ok
}

// HasCorrelation reports whether the record carries correlation columns.
func (r *Record) HasCorrelation() bool {
	return r.columns[ColStdDev]
}

// Load restores the recorded features of c.
func (r *Record) Load(c *omega.Channel, correlated bool) error {
	row, ok := r.rows[c.Name]
	if !ok {
		return fmt.Errorf("%s: not in record", c.Name)
	}
	p := &rowParser{channel: c.Name, row: row}
	c.Tile = omega.Tile{
		Time:      p.float(ColTime),
		Frequency: p.float(ColFrequency),
		Q:         p.float(ColQ),
		Energy:    p.float(ColEnergy),
		SNR:       p.float(ColSNR),
	}
	if correlated {
		c.Correlation = &omega.Correlation{
			Max:    p.float(ColCorrelation),
			StdDev: p.float(ColStdDev),
			Delay:  p.float(ColDelay),
		}
	}
	return p.err
}

type rowParser struct {
	channel string
	row     map[string]string
	err     error
}

func (p *rowParser) float(col string) float64 {
	v, err := strconv.ParseFloat(p.row[col], 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: invalid %q value %q: %w", p.channel, col, p.row[col], err)
	}
	return v
}

// Write replaces the record at path with the given channels.
func Write(path string, channels []*omega.Channel, correlated bool) error {
	return Empty().Write(path, channels, correlated)
}

// Write replaces the record at path with the given channels, followed by the
// rows of r for channels not among them in record order. The file is written
// next to path and renamed into place so a crash never leaves a truncated
// record behind.
func (r *Record) Write(path string, channels []*omega.Channel, correlated bool) error {
	header := append([]string{}, tileColumns...)
	if correlated {
		header = append(header, correlationColumns...)
	}
	lines := [][]string{header}
	seen := make(map[string]bool, len(channels))
	for _, c := range channels {
		seen[c.Name] = true
		line := []string{
			c.Name,
			format(c.Tile.Time),
			format(c.Tile.Frequency),
			format(c.Tile.Q),
			format(c.Tile.Energy),
			format(c.Tile.SNR),
		}
		if correlated {
			corr := c.Correlation
			if corr == nil {
				glog.Warningf("%s has no correlation, recording zeros", c.Name)
				corr = &omega.Correlation{}
			}
			line = append(line, format(corr.Max), format(corr.StdDev), format(corr.Delay))
		}
		lines = append(lines, line)
	}
	for _, name := range r.order {
		if seen[name] {
			continue
		}
		line := make([]string, len(header))
		for i, col := range header {
			v := r.rows[name][col]
			if v == "" && i >= len(tileColumns) {
				v = "0"
			}
			line[i] = v
		}
		lines = append(lines, line)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".summary-*.csv")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := csv.NewWriter(tmp).WriteAll(lines); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func format(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
