package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/chunk-streamer/internal/render"
	"github.com/annel0/chunk-streamer/internal/streaming"
	"github.com/annel0/chunk-streamer/internal/world"
	"github.com/annel0/chunk-streamer/internal/world/block"
)

type fakeStreamer struct {
	store    *world.Store
	remeshed []world.ChunkCoord
}

func (f *fakeStreamer) Stats() streaming.Stats {
	return streaming.Stats{Resident: f.store.Len(), InFlight: 3}
}

func (f *fakeStreamer) Store() *world.Store { return f.store }

func (f *fakeStreamer) Remesh(coord world.ChunkCoord) bool {
	if !f.store.Has(coord) {
		return false
	}
	f.remeshed = append(f.remeshed, coord)
	return true
}

type fakeUploader struct{}

func (fakeUploader) Stats() render.UploaderStats { return render.UploaderStats{Uploads: 42} }

func newTestServer(t *testing.T) (*StatusServer, *fakeStreamer) {
	t.Helper()
	reg := block.NewDefaultRegistry()
	store := world.NewStore(world.Bounds{MinY: -4, MaxY: 4})
	c := world.NewChunk(world.ChunkCoord{X: 1, Y: -2, Z: 3}, world.TierMeshOnly)
	c.MarkTerrainReady(reg)
	require.NoError(t, store.Insert(c))

	fs := &fakeStreamer{store: store}
	srv := NewStatusServer(Config{
		Streamer: fs,
		Uploader: fakeUploader{},
		Registry: prometheus.NewRegistry(),
	})
	return srv, fs
}

func get(t *testing.T, srv *StatusServer, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	w := get(t, srv, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestStatusIncludesStreamingAndGPU(t *testing.T) {
	srv, _ := newTestServer(t)
	w := get(t, srv, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Streaming streaming.Stats      `json:"streaming"`
			GPU       render.UploaderStats `json:"gpu"`
			Process   ProcessStats         `json:"process"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Data.Streaming.Resident)
	assert.Equal(t, 3, resp.Data.Streaming.InFlight)
	assert.Equal(t, 42, resp.Data.GPU.Uploads)
	assert.Greater(t, resp.Data.Process.Goroutines, 0)
}

func TestChunkInfo(t *testing.T) {
	srv, _ := newTestServer(t)

	w := get(t, srv, http.MethodGet, "/api/chunks/1/-2/3")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data ChunkInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, world.ChunkCoord{X: 1, Y: -2, Z: 3}, resp.Data.Coord)
	assert.True(t, resp.Data.TerrainReady)
	assert.True(t, resp.Data.Empty)
	assert.False(t, resp.Data.Uploaded)
	assert.Equal(t, world.TierMeshOnly.String(), resp.Data.Tier)

	assert.Equal(t, http.StatusNotFound, get(t, srv, http.MethodGet, "/api/chunks/0/0/0").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, http.MethodGet, "/api/chunks/a/0/0").Code)
}

func TestRemesh(t *testing.T) {
	srv, fs := newTestServer(t)

	assert.Equal(t, http.StatusAccepted, get(t, srv, http.MethodPost, "/api/chunks/1/-2/3/remesh").Code)
	assert.Equal(t, []world.ChunkCoord{{X: 1, Y: -2, Z: 3}}, fs.remeshed)
	assert.Equal(t, http.StatusConflict, get(t, srv, http.MethodPost, "/api/chunks/5/5/5/remesh").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	get(t, srv, http.MethodGet, "/health")

	w := get(t, srv, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "status_api_http_request_duration_seconds"))
}
