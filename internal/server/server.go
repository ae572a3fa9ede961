package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/calmora/tessera/internal/fetch"
	"github.com/calmora/tessera/internal/iiif"
	"github.com/calmora/tessera/internal/stitch"
	"github.com/calmora/tessera/pkg/tile"
)

// fetchJobs bounds concurrent tile downloads per request.
const fetchJobs = 4

// Server exposes the planning and stitching core over HTTP.
type Server struct {
	startTime time.Time
	version   string
	userAgent string
	client    *iiif.Client
}

// NewServer creates a new server instance
func NewServer(version string) *Server {
	agent := "tessera/" + version
	return &Server{
		startTime: time.Now(),
		version:   version,
		userAgent: agent,
		client:    iiif.NewClient(agent),
	}
}

// Routes mounts the API endpoints on r.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.GetHealth)
	r.Get("/manifest", s.GetManifest)
	r.Post("/plan", s.CreatePlan)
	r.Post("/page", s.CreatePageImage)
}

// GetHealth implements the health check endpoint
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    int(time.Since(s.startTime).Seconds()),
		Version:   s.version,
	}
	s.writeJSON(w, http.StatusOK, response)
}

// GetManifest resolves a manifest URL and lists the document's pages
func (s *Server) GetManifest(w http.ResponseWriter, r *http.Request) {
	requestID := generateRequestID()

	url := r.URL.Query().Get("url")
	if url == "" {
		s.writeValidationErrorResponse(w, "url", "query parameter 'url' is required", requestID)
		return
	}

	m, err := s.client.Manifest(r.Context(), url)
	if err != nil {
		s.handleHarvestError(w, err, requestID)
		return
	}

	response := ManifestResponse{ID: m.ID, Label: m.Label}
	for _, p := range m.Pages() {
		response.Pages = append(response.Pages, ManifestPage{
			Index:      p.Index,
			Label:      p.Label,
			ServiceURL: p.ServiceURL,
		})
	}
	s.writeJSON(w, http.StatusOK, response)
}

// CreatePlan resolves a page's descriptor and returns its tile plan
func (s *Server) CreatePlan(w http.ResponseWriter, r *http.Request) {
	requestID := generateRequestID()

	req, ok := s.decodePageRequest(w, r, requestID)
	if !ok {
		return
	}

	plan, err := s.planFor(r.Context(), req)
	if err != nil {
		s.handleHarvestError(w, err, requestID)
		return
	}

	response := PlanResponse{ScaleFactor: plan.Scale, Rows: plan.Rows, Cols: plan.Cols}
	for _, e := range plan.Entries {
		response.Tiles = append(response.Tiles, PlanTile{
			Region:   e.Region.String(),
			URL:      e.URL,
			Width:    e.OutputWidth,
			Height:   e.OutputHeight,
			Row:      e.Row,
			Col:      e.Col,
			Filename: e.Filename,
		})
	}
	s.writeJSON(w, http.StatusOK, response)
}

// CreatePageImage fetches and stitches one page and returns the JPEG bytes
func (s *Server) CreatePageImage(w http.ResponseWriter, r *http.Request) {
	requestID := generateRequestID()

	req, ok := s.decodePageRequest(w, r, requestID)
	if !ok {
		return
	}

	plan, err := s.planFor(r.Context(), req)
	if err != nil {
		s.handleHarvestError(w, err, requestID)
		return
	}

	// Tiles live only for the duration of the request.
	workDir, err := os.MkdirTemp("", "tessera-page-*")
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"could not allocate a working directory", requestID, nil)
		return
	}
	defer os.RemoveAll(workDir)

	fetcher := fetch.New(fetch.Config{Jobs: fetchJobs, UserAgent: s.userAgent})
	tiles, err := fetcher.FetchAll(r.Context(), plan.Entries, workDir)
	if err != nil {
		s.handleHarvestError(w, err, requestID)
		return
	}

	dest := filepath.Join(workDir, "combined.jpg")
	if err := stitch.New(false).Compose(tiles, dest); err != nil {
		s.handleHarvestError(w, err, requestID)
		return
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		s.writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"could not read the combined image", requestID, nil)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("X-Request-ID", requestID)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

// decodePageRequest parses and validates the shared request body of the
// plan and page endpoints.
func (s *Server) decodePageRequest(w http.ResponseWriter, r *http.Request, requestID string) (PageRequest, bool) {
	var req PageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_JSON",
			"Invalid JSON in request body", requestID, nil)
		return req, false
	}
	if req.ServiceURL == "" {
		s.writeValidationErrorResponse(w, "service_url", "service_url is required", requestID)
		return req, false
	}
	if req.ScaleFactor < 0 {
		s.writeValidationErrorResponse(w, "scale_factor", "scale_factor must not be negative", requestID)
		return req, false
	}
	return req, true
}

func (s *Server) planFor(ctx context.Context, req PageRequest) (*tile.Plan, error) {
	info, err := s.client.Info(ctx, req.ServiceURL)
	if err != nil {
		return nil, err
	}
	return tile.NewPlan(info.Descriptor(), req.ScaleFactor)
}

// handleHarvestError maps pipeline failures onto HTTP statuses: upstream
// retrieval problems are gateway errors, bad geometry is the caller's
// problem, everything else is internal.
func (s *Server) handleHarvestError(w http.ResponseWriter, err error, requestID string) {
	var fetchErr *iiif.FetchError
	if errors.As(err, &fetchErr) {
		s.writeErrorResponse(w, http.StatusBadGateway, "DESCRIPTOR_FETCH_ERROR",
			fetchErr.Error(), requestID, nil)
		return
	}

	var dlErr *fetch.DownloadError
	if errors.As(err, &dlErr) {
		s.writeErrorResponse(w, http.StatusBadGateway, "TILE_DOWNLOAD_ERROR",
			dlErr.Error(), requestID, map[string]interface{}{
				"url":         dlErr.URL,
				"status_code": dlErr.StatusCode,
			})
		return
	}

	var descErr *tile.InvalidDescriptorError
	if errors.As(err, &descErr) {
		s.writeErrorResponse(w, http.StatusBadRequest, "INVALID_DESCRIPTOR",
			descErr.Error(), requestID, nil)
		return
	}

	var decErr *tile.DecodeError
	if errors.As(err, &decErr) {
		s.writeErrorResponse(w, http.StatusInternalServerError, "IMAGE_DECODE_ERROR",
			decErr.Error(), requestID, nil)
		return
	}

	var compErr *stitch.CompositionError
	if errors.As(err, &compErr) {
		s.writeErrorResponse(w, http.StatusInternalServerError, "COMPOSITION_ERROR",
			compErr.Error(), requestID, nil)
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		s.writeErrorResponse(w, http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT",
			"Upstream image service requests timed out", requestID, map[string]interface{}{
				"timeout_seconds": 30,
			})
		return
	}

	log.Printf("Unhandled pipeline error: %v", err)
	s.writeErrorResponse(w, http.StatusInternalServerError, "INTERNAL_ERROR",
		"Internal server error", requestID, nil)
}

// writeErrorResponse writes a standard error response
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message, requestID string, details map[string]interface{}) {
	response := ErrorResponse{
		Error:     errorCode,
		Message:   message,
		RequestID: requestID,
		Details:   details,
	}
	s.writeJSON(w, statusCode, response)
}

// writeValidationErrorResponse writes a validation error response
func (s *Server) writeValidationErrorResponse(w http.ResponseWriter, field, message, requestID string) {
	response := ValidationErrorResponse{
		Error:     "VALIDATION_ERROR",
		Message:   message,
		RequestID: requestID,
		ValidationErrors: []ValidationError{
			{Field: field, Message: message},
		},
	}
	s.writeJSON(w, http.StatusBadRequest, response)
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

// generateRequestID generates a unique request ID
func generateRequestID() string {
	return fmt.Sprintf("req_%d", time.Now().UnixNano())
}
