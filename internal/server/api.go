package server

import "time"

// HealthStatus is the state reported by the health endpoint.
type HealthStatus string

const Healthy HealthStatus = "healthy"

// Error codes returned in ErrorResponse.Error.
const (
	ErrInvalidJSON  = "INVALID_JSON"
	ErrValidation   = "VALIDATION_ERROR"
	ErrDecode       = "DECODE_ERROR"
	ErrResample     = "RESAMPLE_ERROR"
	ErrTileWrite    = "TILE_WRITE_ERROR"
	ErrCancelled    = "REQUEST_CANCELLED"
	ErrTimeout      = "GENERATION_TIMEOUT"
	ErrTileNotFound = "TILE_NOT_FOUND"
	ErrInternal     = "INTERNAL_ERROR"
)

// statusClientClosed is the nginx convention for a client that went away
// before the response was written.
const statusClientClosed = 499

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status    HealthStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Uptime    *int         `json:"uptime,omitempty"`
	Version   *string      `json:"version,omitempty"`
}

// PyramidRequest is the body of POST /api/v1/pyramids. Source is a path
// relative to the server's source directory; the tiles are written below
// the tile root in a directory called Name.
type PyramidRequest struct {
	Source  string  `json:"source"`
	Name    string  `json:"name"`
	MaxZoom *int    `json:"max_zoom"`
	Format  *string `json:"format,omitempty"`
	Filter  *string `json:"filter,omitempty"`
	Quality *int    `json:"quality,omitempty"`
}

// LevelSummary describes one written zoom level.
type LevelSummary struct {
	Zoom       int   `json:"zoom"`
	Edge       int   `json:"edge"`
	Columns    int   `json:"columns"`
	Rows       int   `json:"rows"`
	Tiles      int   `json:"tiles"`
	Bytes      int64 `json:"bytes"`
	Parallel   bool  `json:"parallel"`
	DurationMs int64 `json:"duration_ms"`
}

// PyramidResponse is returned when every level was written.
type PyramidResponse struct {
	Name       string         `json:"name"`
	Format     string         `json:"format"`
	MaxZoom    int            `json:"max_zoom"`
	Tiles      int            `json:"tiles"`
	Levels     []LevelSummary `json:"levels"`
	TileURL    string         `json:"tile_url"`
	DurationMs int64          `json:"duration_ms"`
	RequestId  *string        `json:"request_id,omitempty"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error     string                  `json:"error"`
	Message   string                  `json:"message"`
	Details   *map[string]interface{} `json:"details,omitempty"`
	RequestId *string                 `json:"request_id,omitempty"`
}

// ValidationError names the request field that failed validation.
type ValidationError struct {
	Code    *string `json:"code,omitempty"`
	Field   string  `json:"field"`
	Message string  `json:"message"`
}

// ValidationErrorResponse is returned for requests that fail validation.
type ValidationErrorResponse struct {
	Error            string            `json:"error"`
	Message          string            `json:"message"`
	ValidationErrors []ValidationError `json:"validation_errors"`
	RequestId        *string           `json:"request_id,omitempty"`
}

// FailedTile is one entry of TileErrorResponse.FailedTiles.
type FailedTile struct {
	Tile  string `json:"tile"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// TileErrorResponse is returned when tiles of a level could not be written.
type TileErrorResponse struct {
	Error           string       `json:"error"`
	Message         string       `json:"message"`
	Zoom            int          `json:"zoom"`
	FailedTiles     []FailedTile `json:"failed_tiles"`
	SuccessfulTiles int          `json:"successful_tiles"`
	TotalTiles      int          `json:"total_tiles"`
	RequestId       *string      `json:"request_id,omitempty"`
}
