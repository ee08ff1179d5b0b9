package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// Status texts used when a failure carries no upstream HTTP status.
const (
	StatusTransportError = "transport error"
	StatusTimeout        = "timeout"
	StatusEmptyResponse  = "empty response"
)

// RemoteAPIError reports a failed completion call. StatusCode is the upstream
// HTTP status, or 0 when the request never produced a response.
type RemoteAPIError struct {
	Provider   string
	StatusCode int
	Status     string
	Body       string
	Err        error
}

func (e *RemoteAPIError) Error() string {
	if e.StatusCode == 0 {
		if e.Err != nil {
			return fmt.Sprintf("%s completion failed: %s: %v", e.Provider, e.Status, e.Err)
		}
		return fmt.Sprintf("%s completion failed: %s", e.Provider, e.Status)
	}
	return fmt.Sprintf("%s completion failed with status %d: %s", e.Provider, e.StatusCode, e.Body)
}

func (e *RemoteAPIError) Unwrap() error {
	return e.Err
}

// AsRemoteAPIError reports whether err is or wraps a RemoteAPIError.
func AsRemoteAPIError(err error) (*RemoteAPIError, bool) {
	var apiErr *RemoteAPIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// WrapError converts err into a RemoteAPIError. SDK errors keep their HTTP
// status and body; anything else becomes a transport error or a timeout.
func WrapError(provider string, err error) *RemoteAPIError {
	if err == nil {
		return nil
	}
	if apiErr, ok := AsRemoteAPIError(err); ok {
		return apiErr
	}

	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return &RemoteAPIError{
			Provider:   provider,
			StatusCode: oaErr.StatusCode,
			Status:     statusText(oaErr.Response, oaErr.StatusCode),
			Body:       responseBody(oaErr.Response, oaErr.RawJSON()),
			Err:        err,
		}
	}

	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return &RemoteAPIError{
			Provider:   provider,
			StatusCode: anErr.StatusCode,
			Status:     statusText(anErr.Response, anErr.StatusCode),
			Body:       responseBody(anErr.Response, anErr.RawJSON()),
			Err:        err,
		}
	}

	status := StatusTransportError
	if errors.Is(err, context.DeadlineExceeded) {
		status = StatusTimeout
	}
	return &RemoteAPIError{
		Provider: provider,
		Status:   status,
		Err:      err,
	}
}

func statusText(resp *http.Response, code int) string {
	if resp != nil && resp.Status != "" {
		return resp.Status
	}
	return fmt.Sprintf("%d %s", code, http.StatusText(code))
}

// responseBody prefers the raw response body, which the SDKs leave readable
// after decoding the error, and falls back to the decoded JSON.
func responseBody(resp *http.Response, raw string) string {
	if resp != nil && resp.Body != nil {
		data, err := io.ReadAll(resp.Body)
		if err == nil && len(data) > 0 {
			return string(data)
		}
	}
	return raw
}
