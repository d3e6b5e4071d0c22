package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/gateway"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/logger"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/util"
)

// maxBodyBytes matches the 1 MB JSON limit of the browser-era proxy.
const maxBodyBytes = 1 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        logger.Logger
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: service.log}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	get := r.Method == http.MethodGet || r.Method == http.MethodHead

	switch {
	case get && r.URL.Path == "/api/health":
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case get && r.URL.Path == "/api/ready":
		s.handleReady(w, r)
	case get && r.URL.Path == "/health/redis":
		s.handleStoreHealth(w, r)
	case r.Method == http.MethodPost && r.URL.Path == "/api/ai":
		s.handleAI(w, r)
	case get && r.URL.Path == "/api/transcript":
		s.handleTranscript(w, r)
	case r.URL.Path == "/api/ai" || r.URL.Path == "/api/transcript":
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	default:
		writeError(w, http.StatusNotFound, codeNotFound, "Not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"upstream": map[string]any{"status": "ok"},
		"store":    map[string]any{"status": "skipped"},
	}

	if s.service.llm == nil || !s.service.llm.Configured() {
		checks["upstream"] = map[string]any{"status": "error", "error": msgMissingKey}
		status = "degraded"
	}

	if s.service.HasStore() {
		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["store"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		} else {
			checks["store"] = map[string]any{"status": "ok"}
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     statusCode == http.StatusOK,
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleStoreHealth(w http.ResponseWriter, r *http.Request) {
	if !s.service.HasStore() {
		writeError(w, http.StatusServiceUnavailable, codeStoreUnconfigured, msgStoreMissing, nil)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.service.Ping(ctx); err != nil {
		s.log.Warn(module, "Durable store ping failed", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, codeStoreUnavailable, "Durable store unavailable", map[string]any{"reason": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "pong": "PONG"})
}

func (s *HTTPServer) handleAI(w http.ResponseWriter, r *http.Request) {
	var in gateway.AIRequest
	if err := decodeBody(w, r, &in); err != nil {
		writeAIError(w, domainError(http.StatusBadRequest, codeInvalidBody, err.Error(), nil))
		return
	}
	resp, err := s.service.Ask(r.Context(), in)
	if err != nil {
		writeAIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleTranscript(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.Transcript(r.Context(), r.URL.Query().Get("sessionId"))
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, gateway.TranscriptResponse{Transcript: entries})
}

// writeAIError keeps "error" as the message a client can show verbatim and
// adds retryInSeconds or detail when they apply.
func writeAIError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	body := gateway.ErrorBody{Code: code, Message: message, Details: details}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		body.Detail = domainErr.Detail
		body.RetryInSeconds = domainErr.RetryIn
	}
	if status == http.StatusTooManyRequests && body.RetryInSeconds > 0 {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", body.RetryInSeconds))
	}
	writeJSON(w, status, body)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.ShortID("")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.Info("http", "request", map[string]interface{}{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		})
	})
}

type requestIDKey struct{}

// RequestID returns the id the middleware attached to ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// decodeBody treats an empty body as an empty object.
func decodeBody(w http.ResponseWriter, r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body too large")
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) || errors.Is(err, redis.Nil) {
		return http.StatusNotFound, codeNotFound, "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
