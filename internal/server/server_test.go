package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kiesman99/slicer/internal/metrics"
	"github.com/kiesman99/slicer/pkg/tile"
)

type testEnv struct {
	server    *httptest.Server
	api       *Server
	root      string
	sourceDir string
}

// Test server setup
func setupTestServer(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		root:      t.TempDir(),
		sourceDir: t.TempDir(),
	}
	writeSource(t, filepath.Join(env.sourceDir, "world.png"), 300, 200)

	reg := prometheus.NewRegistry()
	env.api = NewServer("2.0.0-test", Options{
		Root:      env.root,
		SourceDir: env.sourceDir,
		ZoomLimit: 3,
		Workers:   2,
		Metrics:   metrics.New(reg),
	})
	env.server = httptest.NewServer(NewRouter(env.api, reg, 30*time.Second))
	t.Cleanup(env.server.Close)
	return env
}

func writeSource(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func intPtr(i int) *int       { return &i }
func strPtr(s string) *string { return &s }

func postPyramid(t *testing.T, env *testEnv, body interface{}) *http.Response {
	t.Helper()
	var data []byte
	switch b := body.(type) {
	case string:
		data = []byte(b)
	default:
		var err error
		data, err = json.Marshal(b)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
	}

	resp, err := http.Post(env.server.URL+"/api/v1/pyramids", "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestServer(t)

	resp, err := http.Get(env.server.URL + "/api/v1/health")
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", contentType)
	}

	var healthResp HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&healthResp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if healthResp.Status != Healthy {
		t.Errorf("Expected status 'healthy', got %s", healthResp.Status)
	}

	if healthResp.Version == nil || *healthResp.Version != "2.0.0-test" {
		t.Errorf("Expected version '2.0.0-test', got %v", healthResp.Version)
	}

	if time.Since(healthResp.Timestamp) > time.Minute {
		t.Errorf("Timestamp seems too old: %v", healthResp.Timestamp)
	}
}

func TestPyramidEndpoint_Success(t *testing.T) {
	env := setupTestServer(t)

	resp := postPyramid(t, env, PyramidRequest{
		Source:  "world.png",
		Name:    "world",
		MaxZoom: intPtr(1),
		Format:  strPtr("png"),
	})
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, body)
	}

	var result PyramidResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if result.Tiles != 5 || len(result.Levels) != 2 {
		t.Errorf("Expected 5 tiles in 2 levels, got %d in %d", result.Tiles, len(result.Levels))
	}
	if result.TileURL != "/tiles/world/{z}/{x}/{y}.{ext}" {
		t.Errorf("Unexpected tile URL %q", result.TileURL)
	}
	if result.RequestId == nil || *result.RequestId == "" {
		t.Error("Expected a request id")
	}

	if _, err := os.Stat(filepath.Join(env.root, "world", "1", "1", "1.png")); err != nil {
		t.Errorf("Tile missing on disk: %v", err)
	}

	tileResp, err := http.Get(env.server.URL + "/tiles/world/1/1/1.png")
	if err != nil {
		t.Fatalf("Failed to fetch tile: %v", err)
	}
	defer tileResp.Body.Close()
	if tileResp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200 for tile, got %d", tileResp.StatusCode)
	}
	if ct := tileResp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Expected Content-Type image/png, got %s", ct)
	}
	img, err := png.Decode(tileResp.Body)
	if err != nil {
		t.Fatalf("Failed to decode tile: %v", err)
	}
	if img.Bounds().Dx() != tile.Size || img.Bounds().Dy() != tile.Size {
		t.Errorf("Expected %dx%d tile, got %v", tile.Size, tile.Size, img.Bounds())
	}

	metricsResp, err := http.Get(env.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("Failed to fetch metrics: %v", err)
	}
	defer metricsResp.Body.Close()
	body, _ := io.ReadAll(metricsResp.Body)
	if !strings.Contains(string(body), `slicer_tiles_written_total{zoom="1"} 4`) {
		t.Errorf("Expected zoom 1 tile counter in metrics, got:\n%s", body)
	}
}

func TestPyramidEndpoint_ValidationErrors(t *testing.T) {
	env := setupTestServer(t)

	testCases := []struct {
		name           string
		request        interface{}
		expectedStatus int
		expectedError  string
		expectedField  string
	}{
		{
			name:           "Invalid JSON",
			request:        `{"invalid": json}`,
			expectedStatus: http.StatusBadRequest,
			expectedError:  ErrInvalidJSON,
		},
		{
			name:           "Missing source",
			request:        PyramidRequest{Name: "a", MaxZoom: intPtr(1)},
			expectedStatus: http.StatusBadRequest,
			expectedError:  ErrValidation,
			expectedField:  "source",
		},
		{
			name:           "Absolute source",
			request:        PyramidRequest{Source: "/etc/passwd", Name: "a", MaxZoom: intPtr(1)},
			expectedStatus: http.StatusBadRequest,
			expectedError:  ErrValidation,
			expectedField:  "source",
		},
		{
			name:           "Source outside source directory",
			request:        PyramidRequest{Source: "../secret.png", Name: "a", MaxZoom: intPtr(1)},
			expectedStatus: http.StatusBadRequest,
			expectedError:  ErrValidation,
			expectedField:  "source",
		},
		{
			name:           "Name with slash",
			request:        PyramidRequest{Source: "world.png", Name: "a/b", MaxZoom: intPtr(1)},
			expectedStatus: http.StatusBadRequest,
			expectedError:  ErrValidation,
			expectedField:  "name",
		},
		{
			name:           "Name with dots",
			request:        PyramidRequest{Source: "world.png", Name: "a..b", MaxZoom: intPtr(1)},
			expectedStatus: http.StatusBadRequest,
			expectedError:  ErrValidation,
			expectedField:  "name",
		},
		{
			name:           "Missing max zoom",
			request:        PyramidRequest{Source: "world.png", Name: "a"},
			expectedStatus: http.StatusBadRequest,
			expectedError:  ErrValidation,
			expectedField:  "max_zoom",
		},
		{
			name:           "Zoom above limit",
			request:        PyramidRequest{Source: "world.png", Name: "a", MaxZoom: intPtr(4)},
			expectedStatus: http.StatusBadRequest,
			expectedError:  ErrValidation,
			expectedField:  "max_zoom",
		},
		{
			name:           "Webp output",
			request:        PyramidRequest{Source: "world.png", Name: "a", MaxZoom: intPtr(1), Format: strPtr("heic")},
			expectedStatus: http.StatusBadRequest,
			expectedError:  ErrValidation,
			expectedField:  "format",
		},
		{
			name:           "Unknown filter",
			request:        PyramidRequest{Source: "world.png", Name: "a", MaxZoom: intPtr(1), Filter: strPtr("lanczos")},
			expectedStatus: http.StatusBadRequest,
			expectedError:  ErrValidation,
			expectedField:  "filter",
		},
		{
			name:           "Invalid jpeg quality",
			request:        PyramidRequest{Source: "world.png", Name: "a", MaxZoom: intPtr(1), Quality: intPtr(0)},
			expectedStatus: http.StatusBadRequest,
			expectedError:  ErrValidation,
			expectedField:  "request",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postPyramid(t, env, tc.request)

			if resp.StatusCode != tc.expectedStatus {
				t.Errorf("Expected status %d, got %d", tc.expectedStatus, resp.StatusCode)
			}

			var errorResp ValidationErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
				t.Fatalf("Failed to decode error response: %v", err)
			}

			if errorResp.Error != tc.expectedError {
				t.Errorf("Expected error %s, got %s", tc.expectedError, errorResp.Error)
			}
			if tc.expectedField != "" {
				if len(errorResp.ValidationErrors) != 1 || errorResp.ValidationErrors[0].Field != tc.expectedField {
					t.Errorf("Expected validation error on %s, got %+v", tc.expectedField, errorResp.ValidationErrors)
				}
			}
		})
	}

	entries, err := os.ReadDir(env.root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Rejected requests wrote %d entries to the tile root", len(entries))
	}
}

func TestPyramidEndpoint_DecodeError(t *testing.T) {
	env := setupTestServer(t)
	if err := os.WriteFile(filepath.Join(env.sourceDir, "corrupt.png"), []byte("\x89PNG nope"), 0o644); err != nil {
		t.Fatal(err)
	}

	for _, source := range []string{"missing.png", "corrupt.png"} {
		t.Run(source, func(t *testing.T) {
			resp := postPyramid(t, env, PyramidRequest{Source: source, Name: "x", MaxZoom: intPtr(0)})
			if resp.StatusCode != http.StatusUnprocessableEntity {
				t.Errorf("Expected status 422, got %d", resp.StatusCode)
			}

			var errorResp ErrorResponse
			if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
				t.Fatalf("Failed to decode error response: %v", err)
			}
			if errorResp.Error != ErrDecode {
				t.Errorf("Expected error %s, got %s", ErrDecode, errorResp.Error)
			}
			if !strings.Contains(errorResp.Message, source) {
				t.Errorf("Expected message to name %s, got %q", source, errorResp.Message)
			}
		})
	}
}

func TestPyramidEndpoint_TileWriteError(t *testing.T) {
	env := setupTestServer(t)
	// A regular file where the pyramid directory should go.
	if err := os.WriteFile(filepath.Join(env.root, "blocked"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	resp := postPyramid(t, env, PyramidRequest{Source: "world.png", Name: "blocked", MaxZoom: intPtr(2)})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", resp.StatusCode)
	}

	var errorResp TileErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	if errorResp.Error != ErrTileWrite {
		t.Errorf("Expected error %s, got %s", ErrTileWrite, errorResp.Error)
	}
	if errorResp.Zoom != 0 || errorResp.TotalTiles != 1 || errorResp.SuccessfulTiles != 0 {
		t.Errorf("Unexpected summary %+v", errorResp)
	}
	if len(errorResp.FailedTiles) != 1 || errorResp.FailedTiles[0].Tile != "0/0/0" || errorResp.FailedTiles[0].Stage != "write" {
		t.Errorf("Unexpected failed tiles %+v", errorResp.FailedTiles)
	}
}

func TestPyramidEndpoint_Cancelled(t *testing.T) {
	env := setupTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	body := `{"source": "world.png", "name": "gone", "max_zoom": 1}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pyramids", strings.NewReader(body)).WithContext(ctx)
	rec := httptest.NewRecorder()
	env.api.CreatePyramid(rec, req)

	if rec.Code != statusClientClosed {
		t.Errorf("Expected status %d, got %d", statusClientClosed, rec.Code)
	}
	var errorResp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&errorResp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	if errorResp.Error != ErrCancelled {
		t.Errorf("Expected error %s, got %s", ErrCancelled, errorResp.Error)
	}
}

// headerCounter counts WriteHeader calls that reach the underlying writer.
type headerCounter struct {
	http.ResponseWriter
	calls int
}

func (h *headerCounter) WriteHeader(code int) {
	h.calls++
	h.ResponseWriter.WriteHeader(code)
}

func TestPyramidEndpoint_Timeout(t *testing.T) {
	env := setupTestServer(t)
	router := NewRouter(env.api, prometheus.NewRegistry(), time.Nanosecond)

	body := `{"source": "world.png", "name": "slow", "max_zoom": 1}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pyramids", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("Expected status 504, got %d", rec.Code)
	}
	var errorResp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&errorResp); err != nil {
		t.Fatalf("Failed to decode error response: %v", err)
	}
	if errorResp.Error != ErrTimeout {
		t.Errorf("Expected error %s, got %s", ErrTimeout, errorResp.Error)
	}
}

func TestDeadlineLeavesReplyToHandler(t *testing.T) {
	handler := deadline(time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		w.WriteHeader(http.StatusGatewayTimeout)
	}))

	rec := &headerCounter{ResponseWriter: httptest.NewRecorder()}
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/pyramids", nil))

	if rec.calls != 1 {
		t.Errorf("Expected one WriteHeader call, got %d", rec.calls)
	}
}

func TestBindTileParams(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]string
		want    tileParams
		wantErr bool
	}{
		{
			name:   "valid",
			params: map[string]string{"name": "world", "z": "2", "x": "3", "y": "1", "ext": "png"},
			want:   tileParams{Name: "world", Z: 2, X: 3, Y: 1, Ext: "png"},
		},
		{
			name:    "non-numeric zoom",
			params:  map[string]string{"name": "world", "z": "z", "x": "3", "y": "1", "ext": "png"},
			wantErr: true,
		},
		{
			name:    "missing y",
			params:  map[string]string{"name": "world", "z": "2", "x": "3", "y": "", "ext": "png"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rctx := chi.NewRouteContext()
			for k, v := range tt.params {
				rctx.URLParams.Add(k, v)
			}
			req := httptest.NewRequest(http.MethodGet, "/tiles", nil)
			req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

			got, err := bindTileParams(req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("bindTileParams() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("bindTileParams() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestGetTile_NotFound(t *testing.T) {
	env := setupTestServer(t)

	for _, path := range []string{
		"/tiles/world/0/0/0.png",
		"/tiles/world/0/0/0.heic",
		"/tiles/world/z/0/0.png",
		"/tiles/world/0/-1/0.png",
		"/tiles/..hidden/0/0/0.png",
	} {
		t.Run(path, func(t *testing.T) {
			resp, err := http.Get(env.server.URL + path)
			if err != nil {
				t.Fatalf("Failed to make request: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusNotFound {
				t.Errorf("Expected status 404, got %d", resp.StatusCode)
			}
		})
	}
}

func TestCORSHeaders(t *testing.T) {
	env := setupTestServer(t)

	req, err := http.NewRequest("OPTIONS", env.server.URL+"/api/v1/pyramids", nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected Access-Control-Allow-Origin: *")
	}

	if !strings.Contains(resp.Header.Get("Access-Control-Allow-Methods"), "POST") {
		t.Error("Expected Access-Control-Allow-Methods to include POST")
	}

	if !strings.Contains(resp.Header.Get("Access-Control-Allow-Headers"), "Content-Type") {
		t.Error("Expected Access-Control-Allow-Headers to include Content-Type")
	}
}

func TestResolveSource(t *testing.T) {
	s := NewServer("test", Options{SourceDir: "/data/images"})

	testCases := []struct {
		source  string
		want    string
		wantErr bool
	}{
		{"world.png", filepath.Join("/data/images", "world.png"), false},
		{"maps/eu.jpg", filepath.Join("/data/images", "maps", "eu.jpg"), false},
		{"maps/../world.png", filepath.Join("/data/images", "world.png"), false},
		{"..", "", true},
		{"../other/world.png", "", true},
		{"/data/images/world.png", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.source, func(t *testing.T) {
			got, err := s.resolveSource(tc.source)
			if (err != nil) != tc.wantErr {
				t.Fatalf("resolveSource(%q) error = %v, wantErr %v", tc.source, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("resolveSource(%q) = %q, want %q", tc.source, got, tc.want)
			}
		})
	}
}
