package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/harun/novellama/internal/tracing"
	"github.com/harun/novellama/pkg/completion"
	"github.com/harun/novellama/pkg/session"
	"github.com/harun/novellama/pkg/translation"
	"github.com/harun/novellama/pkg/translator"
)

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req TranslateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := s.translator.Translate(r.Context(), req.SessionID, req.Text)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSystemPrompt(w http.ResponseWriter, r *http.Request) {
	var req SystemPromptRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.translator.SetSystemPrompt(r.Context(), req.SessionID, req.Prompt); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleReferences(w http.ResponseWriter, r *http.Request) {
	var req ReferencesRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := s.translator.SetReferences(r.Context(), req.SessionID, req.References); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	history, err := s.translator.Context(r.Context(), r.URL.Query().Get("sessionId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if history == nil {
		history = []translation.Entry{}
	}

	writeJSON(w, http.StatusOK, ContextResponse{Messages: history})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.translator.Settings())
}

// decodeBody decodes a JSON body into v, writing a 400 on failure. An empty
// body decodes as the zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return false
	}
	writeError(w, http.StatusBadRequest, "Invalid JSON body")
	return false
}

// writeServiceError maps translator errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := tracing.LoggerFromContext(r.Context(), s.logger)

	if errors.Is(err, translator.ErrEmptyText) {
		writeError(w, http.StatusBadRequest, "No text provided")
		return
	}
	if errors.Is(err, session.ErrInvalidSessionID) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if apiErr, ok := completion.AsRemoteAPIError(err); ok {
		logger.Warn().
			Str("provider", apiErr.Provider).
			Int("status_code", apiErr.StatusCode).
			Msg("Completion API request failed")

		status := apiErr.StatusCode
		writeJSON(w, http.StatusBadGateway, ErrorResponse{
			Error:  apiErr.Error(),
			Status: &status,
			Body:   apiErr.Body,
		})
		return
	}

	logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	writeError(w, http.StatusInternalServerError, err.Error())
}
