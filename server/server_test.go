package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwdetchar/omegascan/export"
	"github.com/gwdetchar/omegascan/omega"
)

func newTestServer(t *testing.T, root string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	db, err := export.Open(export.DriverSQLite, filepath.Join(t.TempDir(), "omega.db"))
	require.NoError(t, err)

	summaries := make(chan omega.Summary, 10)
	done := make(chan struct{})
	go func() {
		defer close(done)
		db.Write(context.Background(), summaries)
	}()
	t.Cleanup(func() {
		close(summaries)
		<-done
		db.Close()
	})

	s := &OmegaServer{db: db, summaries: summaries, started: time.Now()}
	return s.router(root)
}

func do(r http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestCollectAndQuery(t *testing.T) {
	r := newTestServer(t, "")
	batch := []omega.Summary{
		{RunID: "a", IFO: "H1", GPS: 1126259462.4, Block: "gw", Channel: "H1:GDS-CALIB_STRAIN", Tile: omega.Tile{SNR: 20.4}},
		{RunID: "b", IFO: "L1", GPS: 1126259462.4, Block: "gw", Channel: "L1:GDS-CALIB_STRAIN", Tile: omega.Tile{SNR: 13.1},
			Correlation: &omega.Correlation{Max: 5, StdDev: 1, Delay: 7.3}},
	}
	body, err := json.Marshal(batch)
	require.NoError(t, err)

	w := do(r, http.MethodPost, "/"+export.CollectEndpoint, body)
	require.Equal(t, http.StatusOK, w.Code)
	var resp export.CollectResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, export.CollectResponse{Status: "ok", SummaryCount: 2}, resp)

	var got []omega.Summary
	require.Eventually(t, func() bool {
		w := do(r, http.MethodGet, summariesEndpoint, nil)
		if w.Code != http.StatusOK {
			return false
		}
		got = nil
		return json.Unmarshal(w.Body.Bytes(), &got) == nil && len(got) == 2
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, batch, got)

	w = do(r, http.MethodGet, summariesEndpoint+"?ifo=L1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, 7.3, got[0].Correlation.Delay)
}

func TestCollectRejectsInvalid(t *testing.T) {
	r := newTestServer(t, "")
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/"+export.CollectEndpoint, []byte("{")).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/"+export.CollectEndpoint, []byte(`[{"ifo":"H1"}]`)).Code)
}

func TestSummariesInvalidQuery(t *testing.T) {
	r := newTestServer(t, "")
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, summariesEndpoint+"?start=yesterday", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, summariesEndpoint+"?limit=0", nil).Code)
}

func TestServesScans(t *testing.T) {
	root := t.TempDir()
	scan := filepath.Join(root, "H1_1126259462.4")
	require.NoError(t, os.MkdirAll(scan, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(scan, "index.html"), []byte("<html>scan</html>"), 0o644))

	r := newTestServer(t, root)
	w := do(r, http.MethodGet, scansPath+"/H1_1126259462.4/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "scan")

	w = do(r, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusFound, w.Code)

	w = do(r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
