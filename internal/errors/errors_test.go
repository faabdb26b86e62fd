package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError(t *testing.T) {
	err := ErrValidation("year", "must be between 1900 and 2100")
	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	assert.Equal(t, "VALIDATION_FAILED", err.ErrorCode)
	assert.Equal(t, "Request validation failed", err.Error())
	assert.Equal(t, []FieldError{{Field: "year", Message: "must be between 1900 and 2100"}}, err.Details)
}

func TestInvalidRequestWithError(t *testing.T) {
	err := InvalidRequestWithError(errors.New("multipart: NextPart: EOF"))
	assert.Equal(t, "multipart: NextPart: EOF", err.Details)
}

func TestProblemDetails_MarshalJSON(t *testing.T) {
	problem := NewProblemDetails(http.StatusNotFound, TypeNotFound, "Not Found", "version v-1 not found", "/api/versions/v-1").
		WithExtension("trace_id", "req-1")

	data, err := json.Marshal(problem)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "/errors/not-found",
		"title": "Not Found",
		"status": 404,
		"detail": "version v-1 not found",
		"instance": "/api/versions/v-1",
		"trace_id": "req-1"
	}`, string(data))
}

func TestProblemDetails_ExtensionsCannotOverrideStandardFields(t *testing.T) {
	problem := NewProblemDetails(http.StatusConflict, TypeConflict, "Conflict", "", "").
		WithExtension("status", 200)

	data, err := json.Marshal(problem)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, float64(409), decoded["status"])
	assert.NotContains(t, decoded, "detail")
}
