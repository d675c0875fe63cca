package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"
	"golang.org/x/sync/semaphore"

	"github.com/kiesman99/slicer/internal/logging"
	"github.com/kiesman99/slicer/internal/metrics"
	"github.com/kiesman99/slicer/internal/pyramid"
	"github.com/kiesman99/slicer/internal/raster"
	"github.com/kiesman99/slicer/internal/sink"
	"github.com/kiesman99/slicer/pkg/tile"
)

// DefaultZoomLimit caps max_zoom for requests when Options.ZoomLimit is 0.
// Zoom 5 resamples to at most 512 MiB of pixels.
const DefaultZoomLimit = 5

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Options configures a Server.
type Options struct {
	// Root is the directory pyramids are written to and served from.
	Root string

	// SourceDir confines the source images requests may refer to.
	SourceDir string

	ZoomLimit int
	Workers   int
	Logger    *slog.Logger
	Metrics   *metrics.Collector
}

// Server generates pyramids on request and serves their tiles
type Server struct {
	startTime time.Time
	version   string
	opts      Options
	log       *slog.Logger

	// One generation at a time; a level can hold gigabytes of pixels.
	running *semaphore.Weighted
}

// NewServer creates a new server instance
func NewServer(version string, opts Options) *Server {
	if opts.ZoomLimit <= 0 {
		opts.ZoomLimit = DefaultZoomLimit
	}
	if opts.ZoomLimit > tile.MaxZoom {
		opts.ZoomLimit = tile.MaxZoom
	}
	if opts.Root == "" {
		opts.Root = tile.DefaultOutput
	}
	if opts.SourceDir == "" {
		opts.SourceDir = "."
	}
	return &Server{
		startTime: time.Now(),
		version:   version,
		opts:      opts,
		log:       logging.OrDiscard(opts.Logger),
		running:   semaphore.NewWeighted(1),
	}
}

// GetHealth implements the health check endpoint
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	uptime := int(time.Since(s.startTime).Seconds())

	response := HealthResponse{
		Status:    Healthy,
		Timestamp: time.Now(),
		Uptime:    &uptime,
		Version:   &s.version,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.log.Error("encoding health response", "err", err)
	}
}

// CreatePyramid loads the requested source image and writes its pyramid
// below the tile root. The reply is sent after the last level is written.
func (s *Server) CreatePyramid(w http.ResponseWriter, r *http.Request) {
	requestID := requestID(r)

	var req PyramidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, ErrInvalidJSON,
			"Invalid JSON in request body", &requestID, nil)
		return
	}

	cfg, source, verr := s.validatePyramidRequest(&req)
	if verr != nil {
		s.writeValidationErrorResponse(w, *verr, &requestID)
		return
	}

	if err := s.running.Acquire(r.Context(), 1); err != nil {
		s.handleGenerateError(w, err, &requestID)
		return
	}
	defer s.running.Release(1)

	log := s.log.With("request_id", requestID, "name", req.Name)
	log.Info("generating pyramid", "source", source, "max_zoom", cfg.MaxZoom, "format", cfg.Extension)

	src, err := tile.Load(source)
	if err != nil {
		s.handleGenerateError(w, err, &requestID)
		return
	}

	gen, err := pyramid.New(cfg, sink.NewDir(cfg.OutputRoot),
		pyramid.WithLogger(log),
		pyramid.WithMetrics(s.opts.Metrics))
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, ErrInternal, err.Error(), &requestID, nil)
		return
	}

	report, err := gen.Generate(r.Context(), src)
	if err != nil {
		log.Error("pyramid failed", "err", err)
		s.handleGenerateError(w, err, &requestID)
		return
	}

	response := PyramidResponse{
		Name:       req.Name,
		Format:     cfg.Extension,
		MaxZoom:    cfg.MaxZoom,
		Tiles:      report.Tiles(),
		Levels:     make([]LevelSummary, len(report.Levels)),
		TileURL:    "/tiles/" + req.Name + "/" + tile.Layout,
		DurationMs: report.Duration.Milliseconds(),
		RequestId:  &requestID,
	}
	for i, l := range report.Levels {
		response.Levels[i] = LevelSummary{
			Zoom:       l.Zoom,
			Edge:       l.Edge,
			Columns:    l.Columns,
			Rows:       l.Rows,
			Tiles:      l.Written,
			Bytes:      l.Bytes,
			Parallel:   l.Parallel,
			DurationMs: l.Duration.Milliseconds(),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error("writing response", "err", err)
	}
}

// validatePyramidRequest checks req and returns the run configuration and
// the resolved source path.
func (s *Server) validatePyramidRequest(req *PyramidRequest) (tile.Config, string, *ValidationError) {
	cfg := tile.DefaultConfig()
	if s.opts.Workers > 0 {
		cfg.Workers = s.opts.Workers
	}

	if req.Source == "" {
		return cfg, "", &ValidationError{Field: "source", Message: "source is required"}
	}
	source, err := s.resolveSource(req.Source)
	if err != nil {
		return cfg, "", &ValidationError{Field: "source", Message: err.Error()}
	}

	if !namePattern.MatchString(req.Name) || strings.Contains(req.Name, "..") {
		return cfg, "", &ValidationError{Field: "name", Message: "name must be a single path segment of letters, digits, '.', '_' or '-'"}
	}
	cfg.OutputRoot = filepath.Join(s.opts.Root, req.Name)

	if req.MaxZoom == nil {
		return cfg, "", &ValidationError{Field: "max_zoom", Message: "max_zoom is required"}
	}
	if *req.MaxZoom < 0 || *req.MaxZoom > s.opts.ZoomLimit {
		return cfg, "", &ValidationError{Field: "max_zoom", Message: fmt.Sprintf("max_zoom must be between 0 and %d", s.opts.ZoomLimit)}
	}
	cfg.MaxZoom = *req.MaxZoom

	if req.Format != nil {
		if cfg, err = cfg.WithExtension(*req.Format); err != nil {
			return cfg, "", &ValidationError{Field: "format", Message: err.Error()}
		}
	}
	if req.Filter != nil {
		if _, err := raster.ParseFilter(*req.Filter); err != nil {
			return cfg, "", &ValidationError{Field: "filter", Message: err.Error()}
		}
		cfg.Filter = strings.ToLower(*req.Filter)
	}
	if req.Quality != nil {
		cfg.Quality = *req.Quality
	}

	if err := cfg.Validate(); err != nil {
		return cfg, "", &ValidationError{Field: "request", Message: err.Error()}
	}
	return cfg, source, nil
}

// resolveSource maps a request path to a file inside the source directory.
func (s *Server) resolveSource(p string) (string, error) {
	if filepath.IsAbs(p) {
		return "", errors.New("source must be relative to the source directory")
	}
	full := filepath.Join(s.opts.SourceDir, filepath.FromSlash(p))
	rel, err := filepath.Rel(s.opts.SourceDir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New("source must not leave the source directory")
	}
	return full, nil
}

// tileParams are the path parameters of GET /tiles/{name}/{z}/{x}/{y}.{ext}.
type tileParams struct {
	Name string
	Z    int
	X    int
	Y    int
	Ext  string
}

// bindTileParams binds the tile path parameters the way the generated chi
// wrappers bind theirs.
func bindTileParams(r *http.Request) (tileParams, error) {
	var p tileParams
	for _, param := range []struct {
		name string
		dest any
	}{
		{"name", &p.Name},
		{"z", &p.Z},
		{"x", &p.X},
		{"y", &p.Y},
		{"ext", &p.Ext},
	} {
		err := runtime.BindStyledParameterWithOptions("simple", param.name, chi.URLParam(r, param.name), param.dest,
			runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
		if err != nil {
			return p, fmt.Errorf("invalid format for parameter %s: %w", param.name, err)
		}
	}
	return p, nil
}

// GetTile serves one written tile.
func (s *Server) GetTile(w http.ResponseWriter, r *http.Request) {
	p, err := bindTileParams(r)
	if err != nil {
		s.writeErrorResponse(w, http.StatusNotFound, ErrTileNotFound, "No such tile", nil, nil)
		return
	}
	name, ext, z, x, y := p.Name, p.Ext, p.Z, p.X, p.Y

	format, errF := tile.ParseFormat(ext)
	if errF != nil ||
		z < 0 || z > tile.MaxZoom || x < 0 || y < 0 ||
		!namePattern.MatchString(name) || strings.Contains(name, "..") {
		s.writeErrorResponse(w, http.StatusNotFound, ErrTileNotFound, "No such tile", nil, nil)
		return
	}

	path := tile.Path(filepath.Join(s.opts.Root, name), tile.New(z, x, y), ext)
	f, err := os.Open(path)
	if err != nil {
		s.writeErrorResponse(w, http.StatusNotFound, ErrTileNotFound, "No such tile", nil, nil)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		s.writeErrorResponse(w, http.StatusNotFound, ErrTileNotFound, "No such tile", nil, nil)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeContent(w, r, filepath.Base(path), info.ModTime(), f)
}

// handleGenerateError maps a load or generation failure to a reply.
func (s *Server) handleGenerateError(w http.ResponseWriter, err error, requestID *string) {
	var levelErr *pyramid.LevelError
	if errors.As(err, &levelErr) {
		failed := make([]FailedTile, len(levelErr.Failed))
		for i, ft := range levelErr.Failed {
			failed[i] = FailedTile{
				Tile:  tile.String(ft.Tile),
				Stage: ft.Stage,
				Error: ft.Err.Error(),
			}
		}

		response := TileErrorResponse{
			Error:           ErrTileWrite,
			Message:         levelErr.Error(),
			Zoom:            levelErr.Zoom,
			FailedTiles:     failed,
			SuccessfulTiles: levelErr.Total - len(levelErr.Failed),
			TotalTiles:      levelErr.Total,
			RequestId:       requestID,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(response)
		return
	}

	var decodeErr *tile.DecodeError
	if errors.As(err, &decodeErr) {
		s.writeErrorResponse(w, http.StatusUnprocessableEntity, ErrDecode,
			decodeErr.Error(), requestID, nil)
		return
	}

	var resampleErr *raster.ResampleError
	if errors.As(err, &resampleErr) {
		s.writeErrorResponse(w, http.StatusInternalServerError, ErrResample,
			resampleErr.Error(), requestID, nil)
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		s.writeErrorResponse(w, http.StatusGatewayTimeout, ErrTimeout,
			"Pyramid generation timed out", requestID, nil)
		return
	}

	if errors.Is(err, context.Canceled) {
		s.writeErrorResponse(w, statusClientClosed, ErrCancelled,
			"Request cancelled before the pyramid was complete", requestID, nil)
		return
	}

	s.writeErrorResponse(w, http.StatusInternalServerError, ErrInternal,
		"Internal server error", requestID, nil)
}

// writeErrorResponse writes a standard error response
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string, requestID *string, details map[string]interface{}) {
	response := ErrorResponse{
		Error:     errorCode,
		Message:   message,
		RequestId: requestID,
	}

	if details != nil {
		response.Details = &details
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}

// writeValidationErrorResponse writes a validation error response
func (s *Server) writeValidationErrorResponse(w http.ResponseWriter, verr ValidationError, requestID *string) {
	response := ValidationErrorResponse{
		Error:            ErrValidation,
		Message:          verr.Message,
		RequestId:        requestID,
		ValidationErrors: []ValidationError{verr},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(response)
}

// requestID returns the id assigned by the RequestID middleware, or a new
// one when the handler runs without it.
func requestID(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return "req_" + uuid.NewString()
}
