package server

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/leadify-flow/internal/fallback"
	"github.com/sells-group/leadify-flow/internal/model"
	"github.com/sells-group/leadify-flow/pkg/backend"
)

// proxy forwards the request body to the backend path and returns its JSON
// body. Transport failures and non-JSON bodies become {error} with status
// 500; quality_check also echoes the raw body.
func (s *Server) proxy(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.deps.Backend == nil {
			writeError(w, http.StatusServiceUnavailable, "backend is not configured")
			return
		}
		body, ok := requestJSON(w, r)
		if !ok {
			return
		}

		resp, err := s.deps.Backend.Forward(r.Context(), path, body)
		if err != nil {
			zap.L().Warn("proxy: backend call failed", zap.String("path", path), zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !json.Valid(resp.Body) {
			zap.L().Warn("proxy: invalid JSON from backend",
				zap.String("path", path),
				zap.Int("status", resp.StatusCode),
			)
			payload := map[string]string{"error": "Invalid JSON from backend"}
			if path == backend.PathQualityCheck {
				payload["raw"] = string(resp.Body)
			}
			writeJSON(w, http.StatusInternalServerError, payload)
			return
		}
		writeRaw(w, http.StatusOK, resp.Body)
	}
}

// handleRanking forwards to the ranking endpoint and substitutes the
// fallback ranked set when the call fails, the body is not JSON, or the
// body has no non-empty `ranked` array.
func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request) {
	body, ok := requestJSON(w, r)
	if !ok {
		return
	}

	var (
		resp    *backend.Response
		callErr error
	)
	if s.deps.Backend == nil {
		callErr = errBackendMissing
	} else {
		resp, callErr = s.deps.Backend.Forward(r.Context(), backend.PathRanking, body)
	}

	var respBody []byte
	if resp != nil {
		respBody = resp.Body
	}

	_, trigger := fallback.RankingTrigger(respBody, callErr)
	if trigger == fallback.TriggerNone {
		writeRaw(w, http.StatusOK, respBody)
		return
	}

	ranked, ok := s.fallbackRanked()
	if !ok {
		// Ranking fallback disabled: answer like any other proxied route.
		switch {
		case callErr != nil:
			writeError(w, http.StatusInternalServerError, callErr.Error())
		case trigger == fallback.TriggerInvalidJSON:
			writeError(w, http.StatusInternalServerError, "Invalid JSON from backend")
		default:
			writeRaw(w, http.StatusOK, respBody)
		}
		return
	}

	fields := []zap.Field{zap.String("trigger", string(trigger))}
	if callErr != nil {
		fields = append(fields, zap.Error(callErr))
	}
	zap.L().Warn("proxy: using fallback ranking", fields...)

	w.Header().Set(headerFallback, string(trigger))
	writeJSON(w, http.StatusOK, map[string]any{"ranked": ranked})
}

func (s *Server) fallbackRanked() ([]model.RankedProfile, bool) {
	if s.deps.Fallback == nil {
		return nil, false
	}
	prod, ok := s.deps.Fallback.Lookup(model.StageProfileRanking)
	if !ok {
		return nil, false
	}
	out, err := prod(fallback.Input{})
	if err != nil {
		zap.L().Error("proxy: fallback producer failed", zap.Error(err))
		return nil, false
	}
	return out.Ranked, true
}

// requestJSON reads the body and rejects anything that is not JSON.
func requestJSON(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "request body must be JSON")
		return nil, false
	}
	return body, true
}
