package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/harun/novellama/pkg/completion"
	"github.com/harun/novellama/pkg/session"
	"github.com/harun/novellama/pkg/translator"
)

// Events pushed to authenticated WebSocket clients.
const (
	EventTranslationCompleted = "translation.completed"
	EventSessionUpdated       = "session.updated"
)

func (s *Server) registerBuiltinMethods() {
	s.router.RegisterMethod("translate", s.handleTranslate)
	s.router.RegisterMethod("systemPrompt.set", s.handleSetSystemPrompt)
	s.router.RegisterMethod("references.set", s.handleSetReferences)
	s.router.RegisterMethod("context.get", s.handleContextGet)
	s.router.RegisterMethod("settings.get", s.handleSettingsGet)
	s.router.RegisterMethod("gateway.clients", s.handleClientsList)
}

func (s *Server) handleTranslate(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := stringParam(params, "sessionId")
	if err != nil {
		return nil, err
	}
	text, err := stringParam(params, "text")
	if err != nil {
		return nil, err
	}

	result, err := s.translator.Translate(ctx, sessionID, text)
	if err != nil {
		return nil, rpcErrorFor(err)
	}

	s.broadcaster.Send(EventMessage{
		Event:     EventTranslationCompleted,
		SessionID: sessionOrDefault(sessionID),
		Data: map[string]interface{}{
			"source":      result.Source,
			"translation": result.Translation,
			"origin":      OriginFromContext(ctx),
		},
	})
	return result, nil
}

func (s *Server) handleSetSystemPrompt(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := stringParam(params, "sessionId")
	if err != nil {
		return nil, err
	}
	prompt, err := stringParam(params, "prompt")
	if err != nil {
		return nil, err
	}

	if err := s.translator.SetSystemPrompt(ctx, sessionID, prompt); err != nil {
		return nil, rpcErrorFor(err)
	}

	s.broadcastSessionUpdated(ctx, sessionID, "systemPrompt")
	return map[string]interface{}{"success": true}, nil
}

func (s *Server) handleSetReferences(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := stringParam(params, "sessionId")
	if err != nil {
		return nil, err
	}
	references, err := stringSliceParam(params, "references")
	if err != nil {
		return nil, err
	}

	if err := s.translator.SetReferences(ctx, sessionID, references); err != nil {
		return nil, rpcErrorFor(err)
	}

	s.broadcastSessionUpdated(ctx, sessionID, "references")
	return map[string]interface{}{"success": true}, nil
}

func (s *Server) handleContextGet(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	sessionID, err := stringParam(params, "sessionId")
	if err != nil {
		return nil, err
	}

	entries, err := s.translator.Context(ctx, sessionID)
	if err != nil {
		return nil, rpcErrorFor(err)
	}
	if entries == nil {
		return map[string]interface{}{"messages": []interface{}{}}, nil
	}
	return map[string]interface{}{"messages": entries}, nil
}

func (s *Server) handleSettingsGet(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return s.translator.Settings(), nil
}

func (s *Server) handleClientsList(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{"clients": s.clients.GetConnectedClients()}, nil
}

func (s *Server) broadcastSessionUpdated(ctx context.Context, sessionID, field string) {
	sessionID = sessionOrDefault(sessionID)
	s.broadcaster.Send(EventMessage{
		Event:     EventSessionUpdated,
		SessionID: sessionID,
		Data: map[string]interface{}{
			"sessionId": sessionID,
			"field":     field,
			"origin":    OriginFromContext(ctx),
		},
	})
}

// rpcErrorFor maps translator errors onto JSON-RPC errors.
func rpcErrorFor(err error) error {
	if errors.Is(err, translator.ErrEmptyText) {
		return &RPCError{Code: InvalidParams, Message: "No text provided"}
	}
	if errors.Is(err, session.ErrInvalidSessionID) {
		return &RPCError{Code: InvalidParams, Message: err.Error()}
	}
	if apiErr, ok := completion.AsRemoteAPIError(err); ok {
		return &RPCError{
			Code:    UpstreamError,
			Message: apiErr.Error(),
			Data: map[string]interface{}{
				"status": apiErr.StatusCode,
				"body":   apiErr.Body,
			},
		}
	}
	return err
}

func sessionOrDefault(sessionID string) string {
	if sessionID == "" {
		return translator.DefaultSessionID
	}
	return sessionID
}

// stringParam reads an optional string parameter.
func stringParam(params map[string]interface{}, key string) (string, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return "", nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", &RPCError{Code: InvalidParams, Message: fmt.Sprintf("%s must be a string", key)}
	}
	return value, nil
}

// stringSliceParam reads an optional array of strings.
func stringSliceParam(params map[string]interface{}, key string) ([]string, error) {
	raw, ok := params[key]
	if !ok || raw == nil {
		return []string{}, nil
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, &RPCError{Code: InvalidParams, Message: fmt.Sprintf("%s must be an array of strings", key)}
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, &RPCError{Code: InvalidParams, Message: fmt.Sprintf("%s must be an array of strings", key)}
	}
}
