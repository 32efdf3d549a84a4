package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/relay/internal/errs"
)

func TestToSnake(t *testing.T) {
	assert.Equal(t, "public_key", toSnake("PublicKey"))
	assert.Equal(t, "agent", toSnake("Agent"))
}

func TestValidationMessage(t *testing.T) {
	v := validator.New()

	err := v.Struct(RegisterRequest{Name: "bmo"})
	assert.Equal(t, "public_key is required", validationMessage(err))

	err = v.Struct(RegisterRequest{Name: "bmo", PublicKey: "k", Email: "nope"})
	assert.Equal(t, "invalid email format", validationMessage(err))

	err = v.Struct(VerifyRequest{Agent: "a", Payload: "p", Signature: "s", Role: "root"})
	assert.Equal(t, "role must be one of: agent admin", validationMessage(err))

	assert.Equal(t, "invalid request", validationMessage(errors.New("x")))
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	h := NewHandler(Deps{Logger: zerolog.Nop()})
	req := httptest.NewRequest(http.MethodPost, "/email/confirm", strings.NewReader(`{"agent":"bmo","code":"123456","extra":1}`))

	var body ConfirmCodeRequest
	err := h.decode(req, &body)
	require.Error(t, err)
	assert.Equal(t, errs.InvalidInput, errs.KindOf(err))
}

func TestErrorEnvelope(t *testing.T) {
	h := NewHandler(Deps{Logger: zerolog.Nop()})
	rec := httptest.NewRecorder()

	h.Error(rec, errs.Wrap(errs.Internal, "database error", errors.New("connection reset")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"ok":false,"error":"database error","kind":"internal","status":500}`, rec.Body.String())
}
