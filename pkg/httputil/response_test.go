package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"message": "success"}

	err := WriteJSON(w, http.StatusOK, data)

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteErrorMessage(t *testing.T) {
	w := httptest.NewRecorder()

	WriteErrorMessage(w, http.StatusNotFound, "resource not found")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"resource not found"}`, w.Body.String())
}

func TestWriteInternalError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalError(w)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Internal Server Error"}`, w.Body.String())
}

func TestWriteCreated(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteCreated(w, map[string]bool{"ok": true})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestWriteDetailedError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteDetailedError(w, http.StatusBadRequest, "package is invalid", []map[string]string{
		{"field": "name", "message": "must be lowercase"},
	})

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "package is invalid", body.Error)
	assert.NotNil(t, body.Details)
}
