package errors

import (
	stderrors "errors"
	"fmt"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
		code int
	}{
		{"not found", NotFound("missing"), ErrorTypeNotFound, http.StatusNotFound},
		{"invalid path", InvalidPath("escapes root", "../x"), ErrorTypeInvalidPath, http.StatusBadRequest},
		{"conflict", Conflict("concurrent update", nil), ErrorTypeConflict, http.StatusConflict},
		{"forbidden", Forbidden("denied"), ErrorTypeForbidden, http.StatusForbidden},
		{"not implemented", NotImplemented("import disabled"), ErrorTypeNotImplemented, http.StatusNotImplemented},
		{"io failure", IOFailure("reading file", stderrors.New("disk")), ErrorTypeIOFailure, http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("reverting: %w", NotFound("no revision")), ErrorTypeNotFound, http.StatusNotFound},
		{"plain", stderrors.New("boom"), ErrorTypeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TypeOf(tt.err))
			assert.True(t, IsType(tt.err, tt.want))
			assert.Equal(t, tt.code, StatusCode(tt.err))
		})
	}

	assert.False(t, IsType(nil, ErrorTypeInternal))
}

func TestPublicHidesCause(t *testing.T) {
	cause := stderrors.New("open /var/lib/botvault/tenants/t1/000001.vlog: no space left")
	err := fmt.Errorf("writing: %w", IOFailure("storing file", cause))

	pub := Public(err)
	assert.Equal(t, ErrorTypeIOFailure, pub.Type)
	assert.Equal(t, "storing file", pub.Message)
	assert.Nil(t, pub.Err)
	assert.ErrorIs(t, err, cause)

	pub = Public(stderrors.New("/secret/path"))
	assert.Equal(t, "internal error", pub.Message)
}

func TestWriteHTTP(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteHTTP(rec, fmt.Errorf("reverting: %w", NotFound("revision rX not found")))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body["type"])
	assert.Equal(t, "revision rX not found", body["message"])

	rec = httptest.NewRecorder()
	WriteHTTP(rec, stderrors.New("badger: value log truncated"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "badger")
}
