package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/relay/internal/auth"
	"github.com/eldtechnologies/relay/internal/broadcast"
	"github.com/eldtechnologies/relay/internal/emailverify"
	"github.com/eldtechnologies/relay/internal/errs"
	"github.com/eldtechnologies/relay/internal/registry"
	"github.com/eldtechnologies/relay/internal/store"
)

// Deps are the services the handlers call into.
type Deps struct {
	Store      store.DataStore
	Redis      *store.RedisStore // optional
	Registry   *registry.Registry
	Auth       *auth.Authenticator
	Email      *emailverify.Engine
	Broadcasts *broadcast.Service
	Logger     zerolog.Logger
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store      store.DataStore
	redis      *store.RedisStore
	registry   *registry.Registry
	auth       *auth.Authenticator
	email      *emailverify.Engine
	broadcasts *broadcast.Service
	logger     zerolog.Logger
	validate   *validator.Validate
	now        func() time.Time
}

// NewHandler creates a new Handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		store:      d.Store,
		redis:      d.Redis,
		registry:   d.Registry,
		auth:       d.Auth,
		email:      d.Email,
		broadcasts: d.Broadcasts,
		logger:     d.Logger,
		validate:   validator.New(),
		now:        time.Now,
	}
}

// Result is the envelope of every API response.
type Result struct {
	OK     bool      `json:"ok"`
	Error  string    `json:"error,omitempty"`
	Kind   errs.Kind `json:"kind,omitempty"`
	Status int       `json:"status,omitempty"`
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a failure envelope for err. Internal causes are logged, never
// returned to the client.
func (h *Handler) Error(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	status := errs.Status(kind)
	if kind == errs.Internal || kind == errs.DeliveryFailed {
		h.logger.Error().Err(err).Str("kind", string(kind)).Msg("request failed")
	}
	h.JSON(w, status, Result{
		OK:     false,
		Error:  errs.Message(err),
		Kind:   kind,
		Status: status,
	})
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.New(errs.InvalidInput, "invalid JSON body")
	}
	if err := h.validate.Struct(dst); err != nil {
		return errs.New(errs.InvalidInput, validationMessage(err))
	}
	return nil
}

// validationMessage turns the first validator failure into a client message.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	field := toSnake(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return "invalid email format"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	default:
		return "invalid " + field
	}
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
