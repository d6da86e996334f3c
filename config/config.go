// Package config parses Omega scan configuration files.
//
// Files are INI formatted in the Python configparser dialect: a [DEFAULT]
// section whose keys every other section inherits, %(key)s interpolation
// (the IFO being pre-defined), and indented continuation lines for the
// multi-line channels list. One optional [primary] section names the channel
// to cross-correlate against; every other section is a block of channels.
//
//	[DEFAULT]
//	frametype = %(IFO)s_R
//
//	[primary]
//	channel = %(IFO)s:GDS-CALIB_STRAIN
//	frametype = %(IFO)s_HOFT_C00
//
//	[seismic]
//	name = Seismic
//	duration = 64
//	state-flag = %(IFO)s:DMT-GRD_ISC_LOCK_NOMINAL:1
//	channels = %(IFO)s:ISI-GND_STS_ITMY_Z_DQ
//	           %(IFO)s:ISI-GND_STS_ETMX_Z_DQ
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"gopkg.in/ini.v1"

	"github.com/gwdetchar/omegascan/omega"
)

// PrimarySection is the name of the section holding the primary channel.
const PrimarySection = "primary"

// ErrNoSection is returned when a requested section is not configured.
var ErrNoSection = errors.New("no such section")

// Default processing options.
const (
	DefaultDuration     = 32.0
	DefaultFFTLength    = 2.0
	DefaultSearch       = 0.5
	DefaultMaxDelay     = 0.5
	DefaultMismatch     = 0.2
	DefaultSNRThreshold = 5.5
	DefaultLength       = 1.0
	DefaultFLow         = 4.0
)

var loadOptions = ini.LoadOptions{
	AllowPythonMultilineValues: true,
	InsensitiveKeys:            true,
	IgnoreInlineComment:        true,
}

// Config is a parsed set of configuration files.
type Config struct {
	IFO   string
	Files []string

	file *ini.File
}

// Load reads files in order, later files overriding earlier ones. ifo is
// available to every value as %(IFO)s unless a file defines it itself.
func Load(ifo string, files ...string) (*Config, error) {
	if len(files) == 0 {
		return nil, errors.New("no configuration files given")
	}
	sources := make([]interface{}, 0, len(files))
	for _, f := range files {
		sources = append(sources, f)
	}
	f, err := ini.LoadSources(loadOptions, sources[0], sources[1:]...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse configuration %v: %w", files, err)
	}
	defaults := f.Section(ini.DefaultSection)
	if ifo != "" && !defaults.HasKey("ifo") {
		if _, err := defaults.NewKey("ifo", ifo); err != nil {
			return nil, err
		}
	}
	return &Config{IFO: ifo, Files: files, file: f}, nil
}

// Sections returns the configured section names in file order, DEFAULT excluded.
func (c *Config) Sections() []string {
	var names []string
	for _, name := range c.file.SectionStrings() {
		if name == ini.DefaultSection {
			continue
		}
		names = append(names, name)
	}
	return names
}

// HasSection reports whether name is configured.
func (c *Config) HasSection(name string) bool {
	for _, s := range c.Sections() {
		if s == name {
			return true
		}
	}
	return false
}

// Items returns the interpolated options of a section, DEFAULT included.
func (c *Config) Items(name string) (map[string]string, error) {
	if !c.HasSection(name) {
		return nil, fmt.Errorf("section %q: %w", name, ErrNoSection)
	}
	items := map[string]string{}
	for _, k := range c.file.Section(ini.DefaultSection).Keys() {
		items[k.Name()] = k.String()
	}
	section := c.file.Section(name)
	for _, k := range section.Keys() {
		items[k.Name()] = k.String()
	}
	// DEFAULT values reference the section's own keys when interpolated.
	for key, value := range items {
		if !section.HasKey(key) && strings.Contains(value, "%(") {
			items[key] = interpolate(value, items)
		}
	}
	return items, nil
}

func interpolate(value string, items map[string]string) string {
	for i := 0; i < 10 && strings.Contains(value, "%("); i++ {
		start := strings.Index(value, "%(")
		end := strings.Index(value[start:], ")s")
		if end < 0 {
			break
		}
		name := strings.ToLower(value[start+2 : start+end])
		repl, ok := items[name]
		if !ok {
			break
		}
		value = value[:start] + repl + value[start+end+2:]
	}
	return value
}

// Primary parses the primary section.
func (c *Config) Primary() (*omega.Primary, error) {
	items, err := c.Items(PrimarySection)
	if err != nil {
		return nil, err
	}
	return NewPrimary(items)
}

// Blocks parses every section other than primary as a channel block.
func (c *Config) Blocks() ([]*omega.ChannelList, error) {
	var blocks []*omega.ChannelList
	for _, name := range c.Sections() {
		if name == PrimarySection {
			continue
		}
		items, err := c.Items(name)
		if err != nil {
			return nil, err
		}
		block, err := NewChannelList(name, items)
		if err != nil {
			return nil, err
		}
		glog.V(1).Infof("configured block %q (%d channels)", block.Key, len(block.Channels))
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// NewChannelList builds a block from the options of section key.
func NewChannelList(key string, params map[string]string) (*omega.ChannelList, error) {
	p := &parser{section: key, params: params}
	cl := &omega.ChannelList{
		Key:          key,
		Name:         p.str("name", key),
		Duration:     p.float("duration", DefaultDuration),
		FFTLength:    p.float("fftlength", DefaultFFTLength),
		Resample:     p.int("resample", 0),
		Source:       p.str("source", ""),
		Frametype:    p.str("frametype", ""),
		Flag:         p.str("state-flag", ""),
		Search:       p.float("search", DefaultSearch),
		MaxDelay:     p.float("max-delay", DefaultMaxDelay),
		FRange:       p.pair("frequency-range", omega.Range{0, math.Inf(1)}),
		QRange:       p.pair("q-range", omega.Range{4, 64}),
		Mismatch:     p.float("max-mismatch", DefaultMismatch),
		SNRThreshold: p.float("snr-threshold", DefaultSNRThreshold),
		AlwaysPlot:   p.bool("always-plot", false),
	}
	cl.PlotDurations = p.floats("plot-time-durations", []float64{cl.Duration})
	for _, name := range p.lines("channels") {
		cl.Channels = append(cl.Channels, &omega.Channel{Name: name, Section: key})
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := validate(cl); err != nil {
		return nil, err
	}
	return cl, nil
}

// NewPrimary builds the primary block. The channel is named by the channel
// option, falling back to the first entry of channels.
func NewPrimary(params map[string]string) (*omega.Primary, error) {
	params = copyParams(params)
	if ch, ok := params["channel"]; ok && strings.TrimSpace(ch) != "" {
		params["channels"] = ch
	}
	cl, err := NewChannelList(PrimarySection, params)
	if err != nil {
		return nil, err
	}
	p := &parser{section: PrimarySection, params: params}
	primary := &omega.Primary{
		ChannelList: *cl,
		Length:      p.float("length", DefaultLength),
		FLow:        p.float("f-low", DefaultFLow),
	}
	if p.err != nil {
		return nil, p.err
	}
	primary.Channels = primary.Channels[:1]
	if primary.Length <= 0 || primary.Length > primary.Duration {
		return nil, fmt.Errorf("section %q: length %g must be in (0, duration]", PrimarySection, primary.Length)
	}
	return primary, nil
}

func copyParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

func validate(cl *omega.ChannelList) error {
	switch {
	case len(cl.Channels) == 0:
		return fmt.Errorf("section %q: no channels configured", cl.Key)
	case cl.Duration <= 0:
		return fmt.Errorf("section %q: duration must be positive, got %g", cl.Key, cl.Duration)
	case cl.FFTLength <= 0:
		return fmt.Errorf("section %q: fftlength must be positive, got %g", cl.Key, cl.FFTLength)
	case cl.Resample < 0:
		return fmt.Errorf("section %q: resample must not be negative, got %d", cl.Key, cl.Resample)
	case cl.FRange[0] >= cl.FRange[1]:
		return fmt.Errorf("section %q: invalid frequency-range %v", cl.Key, cl.FRange)
	case cl.QRange[0] >= cl.QRange[1]:
		return fmt.Errorf("section %q: invalid q-range %v", cl.Key, cl.QRange)
	}
	return nil
}

// parser converts option strings, remembering the first failure.
type parser struct {
	section string
	params  map[string]string
	err     error
}

func (p *parser) raw(key string) (string, bool) {
	v, ok := p.params[key]
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *parser) fail(key, value string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("section %q: invalid %s %q: %w", p.section, key, value, err)
	}
}

func (p *parser) str(key, def string) string {
	if v, ok := p.raw(key); ok {
		return v
	}
	return def
}

func (p *parser) float(key string, def float64) float64 {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return f
}

func (p *parser) int(key string, def int) int {
	f := p.float(key, float64(def))
	return int(f)
}

func (p *parser) bool(key string, def bool) bool {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return b
}

func (p *parser) floats(key string, def []float64) []float64 {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	var out []float64
	for _, field := range strings.Split(v, ",") {
		f, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			p.fail(key, v, err)
			return def
		}
		out = append(out, f)
	}
	return out
}

func (p *parser) pair(key string, def omega.Range) omega.Range {
	fs := p.floats(key, def[:])
	if len(fs) != 2 {
		p.fail(key, p.params[key], errors.New("expected two comma separated values"))
		return def
	}
	return omega.Range{fs[0], fs[1]}
}

func (p *parser) lines(key string) []string {
	v, _ := p.raw(key)
	var out []string
	for _, line := range strings.Split(v, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// Epoch names the observing run containing gps.
func Epoch(gps float64) string {
	for _, run := range runs {
		if gps >= run.start && gps < run.end {
			return run.name
		}
	}
	return "ER"
}

var runs = []struct {
	name       string
	start, end float64
}{
	{"O1", 1126051217, 1137254417},
	{"O2", 1164556817, 1187733618},
	{"O3", 1238166018, 1269363618},
	{"O4", 1368975618, math.Inf(1)},
}

// DefaultConfiguration returns the standard configuration for ifo at gps,
// stored in dir as {IFO}-{epoch}.ini.
func DefaultConfiguration(dir, ifo string, gps float64) ([]string, error) {
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.ini", ifo, Epoch(gps)))
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no default configuration for %s during %s, pass --config-file: %w", ifo, Epoch(gps), err)
	}
	return []string{path}, nil
}
