// Package report writes the HTML pages of a scan.
package report

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/yosssi/gohtml"
	"gopkg.in/yaml.v3"

	"github.com/gwdetchar/omegascan/gps"
	"github.com/gwdetchar/omegascan/omega"
)

const (
	IndexFile = "index.html"
	AboutDir  = "about"
	RunFile   = "run.yaml"

	// DefaultRefresh is how often an in-progress page reloads itself.
	DefaultRefresh = 60 * time.Second
)

// HTML is the default omega.Reporter. Pages are written under Dir.
type HTML struct {
	Dir     string
	Refresh time.Duration
}

func New(dir string) *HTML {
	return &HTML{Dir: dir, Refresh: DefaultRefresh}
}

type block struct {
	ID       string
	Name     string
	Channels []*omega.Channel
}

type pageData struct {
	*omega.Page
	RefreshMeta template.HTML
	UTC         string
	Context     string
	Blocks      []block
	Reason      string
}

func (h *HTML) data(p *omega.Page) *pageData {
	d := &pageData{
		Page:    p,
		UTC:     gps.ToTime(p.GPS).Format("2006-01-02 15:04:05.00"),
		Context: strings.ToLower(p.IFO),
	}
	if p.Refresh {
		d.RefreshMeta = template.HTML(fmt.Sprintf(`<meta http-equiv="refresh" content="%d">`, int(h.Refresh.Seconds())))
	}
	if p.TOC != nil {
		for _, name := range p.TOC.Blocks() {
			d.Blocks = append(d.Blocks, block{ID: anchor(name), Name: name, Channels: p.TOC.Channels(name)})
		}
	}
	return d
}

// WriteQScanPage implements omega.Reporter.
func (h *HTML) WriteQScanPage(p *omega.Page) error {
	return h.render(filepath.Join(h.Dir, IndexFile), "qscan", h.data(p))
}

// WriteNullPage implements omega.Reporter.
func (h *HTML) WriteNullPage(p *omega.Page, reason string) error {
	d := h.data(p)
	d.Reason = reason
	return h.render(filepath.Join(h.Dir, IndexFile), "null", d)
}

type configFile struct {
	Path    string
	Content string
}

// runInfo is the machine readable record of a run kept in about/run.yaml.
type runInfo struct {
	RunID   string            `yaml:"run_id"`
	IFO     string            `yaml:"ifo"`
	GPS     float64           `yaml:"gps"`
	UTC     string            `yaml:"utc"`
	Started string            `yaml:"started"`
	Configs []string          `yaml:"configuration_files"`
	Params  map[string]string `yaml:"parameters"`
}

// WriteAbout implements omega.Reporter: an about page listing the run
// parameters and configuration files, plus about/run.yaml.
func (h *HTML) WriteAbout(p *omega.Page) error {
	dir := filepath.Join(h.Dir, AboutDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	info := runInfo{
		RunID:   p.RunID,
		IFO:     p.IFO,
		GPS:     p.GPS,
		UTC:     gps.ToTime(p.GPS).Format(time.RFC3339Nano),
		Started: time.Now().UTC().Format(time.RFC3339),
		Configs: p.Configs,
		Params:  p.Params,
	}
	raw, err := yaml.Marshal(&info)
	if err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(dir, RunFile), raw); err != nil {
		return err
	}

	var files []configFile
	for _, path := range p.Configs {
		content, err := os.ReadFile(path)
		if err != nil {
			glog.Warningf("unable to include configuration %s on about page: %s", path, err)
			continue
		}
		files = append(files, configFile{Path: path, Content: string(content)})
	}
	return h.render(filepath.Join(dir, IndexFile), "about", struct {
		*omega.Page
		ConfigFiles []configFile
	}{p, files})
}

func (h *HTML) render(path, name string, data interface{}) error {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("unable to render %s: %w", name, err)
	}
	return writeAtomic(path, gohtml.FormatBytes(buf.Bytes()))
}

// writeAtomic replaces path so a browser refreshing mid-scan never sees a
// partially written page.
func writeAtomic(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func anchor(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '-'
	}, name)
}
