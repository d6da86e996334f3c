package plot

import (
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwdetchar/omegascan/omega"
)

func TestRenderer_Glitchgram(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRenderer(dir, "jet", "log")
	require.NoError(t, err)

	summaries := []omega.Summary{
		{Channel: "H1:A", Tile: omega.Tile{Time: 1126259462.4, Frequency: 120, SNR: 20}},
		{Channel: "H1:B", Tile: omega.Tile{Time: 1126259470, Frequency: 8, SNR: 6}},
		{Channel: "H1:C", Tile: omega.Tile{Time: 1126259500, Frequency: 900, SNR: 60}},
		// never scanned
		{Channel: "H1:D"},
	}
	require.NoError(t, r.Glitchgram(summaries, "glitchgram.png"))
	f, err := os.Open(filepath.Join(dir, "glitchgram.png"))
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, r.Width+gridMarginLeft+gridMarginRight, img.Bounds().Dx())

	require.NoError(t, r.Glitchgram(summaries[:1], "single.jpg"))
	j, err := os.Open(filepath.Join(dir, "single.jpg"))
	require.NoError(t, err)
	defer j.Close()
	_, err = jpeg.Decode(j)
	assert.NoError(t, err)

	assert.Error(t, r.Glitchgram(summaries[3:], "empty.png"))
}
