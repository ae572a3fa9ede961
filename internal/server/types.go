package server

import "time"

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    int       `json:"uptime"`
	Version   string    `json:"version"`
}

// ErrorResponse is the error envelope shared by all endpoints.
type ErrorResponse struct {
	Error     string                 `json:"error"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ValidationErrorResponse carries per-field validation failures.
type ValidationErrorResponse struct {
	Error            string            `json:"error"`
	Message          string            `json:"message"`
	RequestID        string            `json:"request_id,omitempty"`
	ValidationErrors []ValidationError `json:"validation_errors"`
}

// ValidationError describes one rejected request field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ManifestResponse lists the pages of one document.
type ManifestResponse struct {
	ID    string         `json:"id"`
	Label string         `json:"label"`
	Pages []ManifestPage `json:"pages"`
}

// ManifestPage is one page reference within a ManifestResponse.
type ManifestPage struct {
	Index      int    `json:"index"`
	Label      string `json:"label"`
	ServiceURL string `json:"service_url"`
}

// PageRequest asks for a tile plan or a stitched page image for one image
// service.
type PageRequest struct {
	ServiceURL  string `json:"service_url"`
	ScaleFactor int    `json:"scale_factor,omitempty"`
}

// PlanResponse is the tile plan for one page.
type PlanResponse struct {
	ScaleFactor int        `json:"scale_factor"`
	Rows        int        `json:"rows"`
	Cols        int        `json:"cols"`
	Tiles       []PlanTile `json:"tiles"`
}

// PlanTile is one planned tile request.
type PlanTile struct {
	Region   string `json:"region"`
	URL      string `json:"url"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Row      int    `json:"row"`
	Col      int    `json:"col"`
	Filename string `json:"filename"`
}
