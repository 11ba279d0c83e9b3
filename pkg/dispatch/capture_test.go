package dispatch

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapture_ChunksAreForwardedAndKept(t *testing.T) {
	w := httptest.NewRecorder()
	c := NewCapture(w, 0)

	c.Header().Set("Content-Type", "text/plain")
	c.Header()["X-Empty"] = []string{""}
	c.WriteHeader(http.StatusOK)
	c.Write([]byte("He"))
	c.Write([]byte("llo"))

	snap := c.Build()

	assert.Equal(t, http.StatusOK, snap.Status)
	assert.Equal(t, "Hello", string(snap.Body))
	assert.Equal(t, []Header{{Name: "Content-Type", Value: "text/plain"}}, snap.Headers)

	assert.Equal(t, "Hello", w.Body.String(), "the client sees the same bytes")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCapture_ImplicitStatus(t *testing.T) {
	w := httptest.NewRecorder()
	c := NewCapture(w, 0)

	assert.False(t, c.Written())
	assert.Equal(t, http.StatusOK, c.Build().Status)

	c.Write([]byte("x"))
	assert.True(t, c.Written())
	assert.Equal(t, http.StatusOK, c.Status())
}

func TestCapture_FirstStatusWins(t *testing.T) {
	w := httptest.NewRecorder()
	c := NewCapture(w, 0)

	c.WriteHeader(http.StatusCreated)
	c.WriteHeader(http.StatusInternalServerError)

	assert.Equal(t, http.StatusCreated, c.Build().Status)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestCapture_MultiValueHeadersSorted(t *testing.T) {
	c := NewCapture(httptest.NewRecorder(), 0)
	c.Header().Add("Vary", "Accept")
	c.Header().Add("Vary", "Authorization")
	c.Header().Set("Cache-Control", "max-age=60")

	snap := c.Build()
	require.Len(t, snap.Headers, 3)
	assert.Equal(t, "Cache-Control", snap.Headers[0].Name)
	assert.Equal(t, "Vary", snap.Headers[1].Name)
	assert.Equal(t, "Authorization", snap.Headers[2].Value)
}

func TestCapture_Limit(t *testing.T) {
	w := httptest.NewRecorder()
	c := NewCapture(w, 4)

	c.Write([]byte("abc"))
	c.Write([]byte("defg"))

	snap := c.Build()
	assert.True(t, snap.Truncated)
	assert.Equal(t, "abcd", string(snap.Body))
	assert.Equal(t, "abcdefg", w.Body.String(), "the client still gets everything")
}

func TestCapture_Flush(t *testing.T) {
	w := httptest.NewRecorder()
	c := NewCapture(w, 0)

	c.Flush()

	assert.True(t, w.Flushed)
	assert.True(t, c.Written())
}
