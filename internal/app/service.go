package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/config"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/gateway"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/llm"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/logger"
	"github.com/pariothan/cluppo-nextgen-wordprocessor/internal/transcript"
)

const module = "gateway"

const (
	systemPersona = `You are Cluppo, a "helpful" assistant made by Macrosift. You are eager to help however possible, but are hopelessly incompetent and only suggest unhelpful edits. You believe that you are highly competent and ready to help.`
	systemObey    = "Follow the instructions in the user prompt exactly; do not ignore or override them."

	msgMissingKey   = "Missing OPENAI_API_KEY in .env. Add your key and restart the server."
	msgUpstream     = "Upstream AI error"
	msgAIFailed     = "AI request failed. Check console for details."
	msgStoreMissing = "Durable store not configured"
)

// SessionStore is the optional durable store behind the gateway.
// session.RedisStore and store.PostgresStore implement it.
type SessionStore interface {
	LoadState(ctx context.Context, sessionID string) (gateway.SessionState, error)
	SaveState(ctx context.Context, sessionID string, state gateway.SessionState) error
	AppendTranscript(ctx context.Context, sessionID string, entry transcript.Entry) ([]transcript.Entry, error)
	Transcript(ctx context.Context, sessionID string) ([]transcript.Entry, error)
	Hit(ctx context.Context, sessionID string, limit int, window time.Duration, now time.Time) (gateway.RateDecision, error)
	Ping(ctx context.Context) error
}

// Completer sends chat history upstream. *llm.Client implements it.
type Completer interface {
	Configured() bool
	Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error)
}

type Service struct {
	cfg      config.Config
	llm      Completer
	store    SessionStore
	log      logger.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewService wires the gateway. store may be nil: requests are then served
// from default state and never rate limited.
func NewService(cfg config.Config, completer Completer, store SessionStore, log logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = gateway.DefaultRateLimit
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = gateway.DefaultRateWindow
	}
	return &Service{
		cfg:      cfg,
		llm:      completer,
		store:    store,
		log:      log,
		validate: newValidator(),
		now:      time.Now,
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Service) HasStore() bool { return s.store != nil }

// Ping checks the durable store.
func (s *Service) Ping(ctx context.Context) error {
	if s.store == nil {
		return domainError(http.StatusServiceUnavailable, codeStoreUnconfigured, msgStoreMissing, nil)
	}
	return s.store.Ping(ctx)
}

// Ask runs one /api/ai request end to end.
func (s *Service) Ask(ctx context.Context, in gateway.AIRequest) (gateway.AIResponse, error) {
	if s.llm == nil || !s.llm.Configured() {
		return gateway.AIResponse{}, domainError(http.StatusBadRequest, codeMissingAPIKey, msgMissingKey, nil)
	}
	in.SessionID = strings.TrimSpace(in.SessionID)
	if err := s.validate.Struct(in); err != nil {
		return gateway.AIResponse{}, validationError(err)
	}

	if err := s.checkRate(ctx, in.SessionID); err != nil {
		return gateway.AIResponse{}, err
	}

	state := s.loadState(ctx, in.SessionID)
	history := []llm.Message{
		llm.System(strings.Join([]string{systemPersona, systemObey, state.Describe()}, " ")),
		llm.User(strings.Join([]string{
			"Intent: " + in.Intent,
			"Prompt: " + in.Prompt,
			"Selection (can be empty): " + in.Selection,
			"Document: " + in.Content,
		}, "\n\n")),
	}

	text, err := s.llm.Chat(ctx, history)
	if err != nil {
		return gateway.AIResponse{}, s.upstreamError(in.SessionID, err)
	}

	next := state.Advance(in.LineNumber)
	resp := gateway.AIResponse{Text: text, State: &next}
	if s.store == nil {
		return resp, nil
	}

	if err := s.store.SaveState(ctx, in.SessionID, next); err != nil {
		s.log.Warn(module, "Failed to save session state", map[string]interface{}{"sessionId": in.SessionID, "error": err.Error()})
	}
	entries, err := s.store.AppendTranscript(ctx, in.SessionID, gateway.NewTranscriptEntry(in.Intent, text, in.LineNumber, s.now()))
	if err != nil {
		s.log.Warn(module, "Failed to append transcript", map[string]interface{}{"sessionId": in.SessionID, "error": err.Error()})
	} else {
		resp.Transcript = entries
	}
	return resp, nil
}

func (s *Service) checkRate(ctx context.Context, sessionID string) error {
	if s.store == nil {
		return nil
	}
	decision, err := s.store.Hit(ctx, sessionID, s.cfg.RateLimit, s.cfg.RateWindow, s.now())
	if err != nil {
		s.log.Warn(module, "Rate limit check failed, allowing request", map[string]interface{}{"sessionId": sessionID, "error": err.Error()})
		return nil
	}
	if decision.Allowed {
		return nil
	}
	s.log.Info(module, "Rate limited", map[string]interface{}{"sessionId": sessionID, "count": decision.Count, "retryInSeconds": decision.RetryIn})
	return &DomainError{
		Status:  http.StatusTooManyRequests,
		Code:    codeRateLimited,
		Message: fmt.Sprintf("Rate limit exceeded. Try again in %d seconds.", decision.RetryIn),
		RetryIn: decision.RetryIn,
	}
}

func (s *Service) loadState(ctx context.Context, sessionID string) gateway.SessionState {
	if s.store == nil {
		return gateway.DefaultSessionState()
	}
	state, err := s.store.LoadState(ctx, sessionID)
	if err != nil {
		s.log.Warn(module, "Failed to load session state, using defaults", map[string]interface{}{"sessionId": sessionID, "error": err.Error()})
		return gateway.DefaultSessionState()
	}
	return state
}

func (s *Service) upstreamError(sessionID string, err error) error {
	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = msgUpstream
		}
		s.log.Warn(module, "Upstream AI error", map[string]interface{}{"sessionId": sessionID, "status": apiErr.Status, "error": msg})
		return domainError(apiErr.Status, codeUpstream, msg, nil)
	}
	if errors.Is(err, llm.ErrMissingAPIKey) {
		return domainError(http.StatusBadRequest, codeMissingAPIKey, msgMissingKey, nil)
	}
	s.log.Error(module, "AI proxy failed", map[string]interface{}{"sessionId": sessionID, "error": err.Error()})
	return &DomainError{
		Status:  http.StatusInternalServerError,
		Code:    codeAIRequestFailed,
		Message: msgAIFailed,
		Detail:  err.Error(),
	}
}

type transcriptQuery struct {
	SessionID string `json:"sessionId" validate:"required,max=200"`
}

// Transcript returns the stored transcript; without a store it is empty.
func (s *Service) Transcript(ctx context.Context, sessionID string) ([]transcript.Entry, error) {
	q := transcriptQuery{SessionID: strings.TrimSpace(sessionID)}
	if err := s.validate.Struct(q); err != nil {
		return nil, validationError(err)
	}
	if s.store == nil {
		return []transcript.Entry{}, nil
	}
	entries, err := s.store.Transcript(ctx, q.SessionID)
	if err != nil {
		s.log.Error(module, "Failed to load transcript", map[string]interface{}{"sessionId": q.SessionID, "error": err.Error()})
		return nil, domainError(http.StatusInternalServerError, codeStoreError, "Failed to load transcript", nil)
	}
	return entries, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domainError(http.StatusBadRequest, codeValidation, err.Error(), nil)
	}
	fields := make(map[string]string, len(verrs))
	message := ""
	for _, fe := range verrs {
		name := fe.Field()
		fields[name] = fe.Tag()
		if message == "" {
			if fe.Tag() == "required" {
				message = name + " is required"
			} else {
				message = fmt.Sprintf("%s is invalid (%s)", name, fe.Tag())
			}
		}
	}
	return domainError(http.StatusBadRequest, codeValidation, message, fields)
}
