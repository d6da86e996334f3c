package plot

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/golang/glog"

	"github.com/gwdetchar/omegascan/omega"
)

const glitchRadius = 4 // pixels

// Glitchgram plots the loudest tile of every summary by time and frequency,
// coloured by SNR. Louder tiles are drawn on top.
func (r *Renderer) Glitchgram(summaries []omega.Summary, file string) error {
	var tiles []omega.Tile
	for _, s := range summaries {
		if s.Tile.Frequency > 0 {
			tiles = append(tiles, s.Tile)
		}
	}
	if len(tiles) == 0 {
		return errors.New("no tiles to plot")
	}
	sort.Slice(tiles, func(i, j int) bool { return tiles[i].SNR < tiles[j].SNR })

	tmin, tmax := math.Inf(1), math.Inf(-1)
	fmin, fmax := math.Inf(1), math.Inf(-1)
	for _, t := range tiles {
		tmin, tmax = math.Min(tmin, t.Time), math.Max(tmax, t.Time)
		fmin, fmax = math.Min(fmin, t.Frequency), math.Max(fmax, t.Frequency)
	}
	// pad so no tile sits on the frame
	pad := math.Max((tmax-tmin)*0.05, 1)
	tmin, tmax = tmin-pad, tmax+pad
	fmin, fmax = fmin/1.5, fmax*1.5
	snrLo, snrHi := tiles[0].SNR, tiles[len(tiles)-1].SNR
	if snrHi == snrLo {
		snrHi = snrLo + 1
	}

	canvas := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{gridBackgroundColor}, image.Point{}, draw.Src)
	for _, t := range tiles {
		x := int((t.Time - tmin) / (tmax - tmin) * float64(r.Width))
		y := int((1 - math.Log(t.Frequency/fmin)/math.Log(fmax/fmin)) * float64(r.Height))
		c := GetColor(r.gradient, (t.SNR-snrLo)/(snrHi-snrLo))
		for dx := -glitchRadius; dx <= glitchRadius; dx++ {
			for dy := -glitchRadius; dy <= glitchRadius; dy++ {
				if dx*dx+dy*dy <= glitchRadius*glitchRadius {
					canvas.SetRGBA(x+dx, y+dy, c)
				}
			}
		}
	}

	img := frame(canvas, axes{
		title: fmt.Sprintf("%d loudest tiles, SNR %.1f to %.1f", len(tiles), tiles[0].SNR, tiles[len(tiles)-1].SNR),
		xlabel: func(x int) string {
			return fmt.Sprintf("%.0f", tmin+float64(x)/float64(r.Width)*(tmax-tmin))
		},
		ylabel: func(y int) string {
			f := fmin * math.Pow(fmax/fmin, 1-float64(y)/float64(r.Height))
			return GetReadableFreq(math.Round(f*10) / 10)
		},
	})
	path := filepath.Join(r.Dir, file)
	glog.V(1).Infof("writing %s", path)
	if ext := strings.ToLower(filepath.Ext(file)); ext == ".jpg" || ext == ".jpeg" {
		return writeJPEG(path, img)
	}
	return writePNG(path, img)
}

func writeJPEG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, img, nil); err != nil {
		f.Close()
		return fmt.Errorf("unable to encode %q: %w", path, err)
	}
	return f.Close()
}
