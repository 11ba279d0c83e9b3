package npmhandler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/wharf/pkg/plugins"
)

func TestResolve(t *testing.T) {
	h := New(Config{})

	tests := []struct {
		target string
		want   plugins.PackageRef
		ok     bool
	}{
		{target: "/left-pad", want: plugins.PackageRef{Name: "left-pad"}, ok: true},
		{target: "/@acme/left-pad", want: plugins.PackageRef{Name: "@acme/left-pad"}, ok: true},
		{target: "/@acme%2fleft-pad", want: plugins.PackageRef{Name: "@acme/left-pad"}, ok: true},
		{target: "/left-pad/-/left-pad-1.0.0.tgz", want: plugins.PackageRef{Name: "left-pad", Tarball: "left-pad-1.0.0.tgz"}, ok: true},
		{target: "/@acme/left-pad/-/left-pad-1.0.0.tgz", want: plugins.PackageRef{Name: "@acme/left-pad", Tarball: "left-pad-1.0.0.tgz"}, ok: true},
		{target: "/-/whoami", ok: false},
		{target: "/left-pad/1.0.0", ok: false},
		{target: "/", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			got, ok := h.Resolve(httptest.NewRequest(http.MethodGet, tt.target, nil))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderPackage(t *testing.T) {
	h := New(Config{BaseURL: "https://registry.example.com/"})
	w := httptest.NewRecorder()

	require.NoError(t, h.RenderPackage(w, &plugins.Package{
		Name:      "left-pad",
		DistTags:  map[string]string{"latest": "1.0.0"},
		UpdatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Versions: map[string]*plugins.Version{
			"1.0.0": {Name: "left-pad", Version: "1.0.0", Dist: plugins.Dist{Tarball: "/left-pad/-/left-pad-1.0.0.tgz"}},
		},
	}))

	assert.Equal(t, http.StatusOK, w.Code)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "left-pad", doc["_id"])

	versions := doc["versions"].(map[string]interface{})
	dist := versions["1.0.0"].(map[string]interface{})["dist"].(map[string]interface{})
	assert.Equal(t, "https://registry.example.com/left-pad/-/left-pad-1.0.0.tgz", dist["tarball"])
}

func TestRenderPackage_SkipsMissingVersions(t *testing.T) {
	w := httptest.NewRecorder()

	require.NoError(t, New(Config{}).RenderPackage(w, &plugins.Package{
		Name: "left-pad",
		Versions: map[string]*plugins.Version{
			"1.0.0": nil,
			"1.1.0": {Name: "left-pad", Version: "1.1.0"},
		},
	}))

	var doc struct {
		Versions map[string]json.RawMessage `json:"versions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Len(t, doc.Versions, 1)
	assert.Contains(t, doc.Versions, "1.1.0")
}

type brokenWriter struct {
	*httptest.ResponseRecorder
}

func (w brokenWriter) Write([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestRenderPackage_WriteError(t *testing.T) {
	w := brokenWriter{httptest.NewRecorder()}
	err := New(Config{}).RenderPackage(w, &plugins.Package{Name: "left-pad"})
	assert.EqualError(t, err, "connection reset")
}

func publishRequest(body string) *http.Request {
	return httptest.NewRequest(http.MethodPut, "/left-pad", strings.NewReader(body))
}

func TestDecodePublish(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte("tarball"))
	body := `{
		"name": "left-pad",
		"dist-tags": {"latest": "1.0.0"},
		"versions": {"1.0.0": {"name": "left-pad", "version": "1.0.0",
			"dist": {"tarball": "http://localhost:4873/left-pad/-/left-pad-1.0.0.tgz", "shasum": "abc"}}},
		"_attachments": {"left-pad-1.0.0.tgz": {"content_type": "application/octet-stream", "data": "` + data + `", "length": 7}}
	}`

	pkg, attachments, err := New(Config{}).DecodePublish(publishRequest(body))
	require.NoError(t, err)

	assert.Equal(t, "left-pad", pkg.Name)
	assert.Equal(t, "/left-pad/-/left-pad-1.0.0.tgz", pkg.Versions["1.0.0"].Dist.Tarball)
	assert.Equal(t, "abc", pkg.Versions["1.0.0"].Dist.Shasum)
	require.Len(t, attachments, 1)
	assert.Equal(t, "left-pad-1.0.0.tgz", attachments[0].Filename)
	assert.Equal(t, "tarball", string(attachments[0].Data))
}

func TestDecodePublish_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "{"},
		{name: "no name", body: `{"versions": {}}`},
		{name: "bad base64", body: `{"name": "x", "_attachments": {"x-1.0.0.tgz": {"data": "%%%"}}}`},
		{name: "path in attachment", body: `{"name": "x", "_attachments": {"../x-1.0.0.tgz": {"data": ""}}}`},
		{name: "length mismatch", body: `{"name": "x", "_attachments": {"x-1.0.0.tgz": {"data": "eA==", "length": 9}}}`},
		{name: "null version", body: `{"name": "x", "versions": {"1.0.0": null}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := New(Config{}).DecodePublish(publishRequest(tt.body))
			se, ok := plugins.AsStatusError(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, http.StatusBadRequest, se.Code)
		})
	}
}

func TestExport(t *testing.T) {
	inst, err := Export().Init(context.Background(), plugins.InitParams{Config: plugins.Config{"base_url": "http://x"}})
	require.NoError(t, err)
	assert.Equal(t, "http://x", inst.(*Handler).baseURL)
}
