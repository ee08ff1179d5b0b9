package httpapi

import (
	"time"

	"github.com/harun/novellama/pkg/translation"
)

// ServerOptions configures the HTTP API server.
type ServerOptions struct {
	Host               string
	Port               int
	RateLimitPerMinute int
	// CORSOrigin is sent as Access-Control-Allow-Origin; empty disables CORS headers.
	CORSOrigin      string
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
}

// TranslateRequest is the body of POST /api/translate.
type TranslateRequest struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

// SystemPromptRequest is the body of POST /api/system-prompt.
type SystemPromptRequest struct {
	SessionID string `json:"sessionId"`
	Prompt    string `json:"prompt"`
}

// ReferencesRequest is the body of POST /api/references.
type ReferencesRequest struct {
	SessionID  string   `json:"sessionId"`
	References []string `json:"references"`
}

// ContextResponse is returned by GET /api/context.
type ContextResponse struct {
	Messages []translation.Entry `json:"messages"`
}

// SuccessResponse acknowledges an update.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ErrorResponse is the body of every failed request. Status and Body are set
// when the completion API rejected the request.
type ErrorResponse struct {
	Error  string `json:"error"`
	Status *int   `json:"status,omitempty"`
	Body   string `json:"body,omitempty"`
}

// RouteStats tracks request outcomes for one route.
type RouteStats struct {
	Route               string  `json:"route"`
	TotalRequests       int64   `json:"totalRequests"`
	SuccessCount        int64   `json:"successCount"`
	FailureCount        int64   `json:"failureCount"`
	AverageResponseTime float64 `json:"averageResponseTime"`
	LastRequestAt       int64   `json:"lastRequestAt"`
}

// rateLimitState holds request timestamps inside the sliding window.
type rateLimitState struct {
	requests []int64
}
