package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpopescu/streamgraph/internal/elements/dropping"
	"github.com/cpopescu/streamgraph/internal/elements/switching"
	"github.com/cpopescu/streamgraph/internal/graph"
	"github.com/cpopescu/streamgraph/internal/loop"
	"github.com/cpopescu/streamgraph/internal/stats"
	"github.com/cpopescu/streamgraph/internal/statekeeper"
	"github.com/cpopescu/streamgraph/internal/tag"
)

// fakeLeaf is a minimal graph.Element stub giving the RPC tests a media
// name switching/playlist policies can target without pulling in a real
// source element (file I/O, HTTP, gRPC).
type fakeLeaf struct{ name string }

func (f *fakeLeaf) ClassName() string { return "fake_leaf" }
func (f *fakeLeaf) Name() string      { return f.name }
func (f *fakeLeaf) Initialize() bool  { return true }
func (f *fakeLeaf) AddRequest(path string, req *graph.Request, cb graph.ProcessingCallback) bool {
	return true
}
func (f *fakeLeaf) RemoveRequest(req *graph.Request) {}
func (f *fakeLeaf) HasMedia(path string) bool        { return true }
func (f *fakeLeaf) ListMedia(dir string) []string    { return []string{f.name} }
func (f *fakeLeaf) DescribeMedia(path string, cb graph.DescribeCallback) bool {
	cb(&tag.MediaInfo{})
	return true
}
func (f *fakeLeaf) Close(done graph.DoneCallback) {
	if done != nil {
		done()
	}
}

var _ graph.Element = (*fakeLeaf)(nil)

func newTestServer(t *testing.T) (*Server, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mapper := graph.NewMapper()
	lp := loop.New()
	go lp.Run()
	t.Cleanup(lp.Stop)

	keeper := statekeeper.NewMemory()
	collector := stats.New("test-server", 1, nil, nil)
	backend := NewMemoryResolveBackend()

	s := NewServer(mapper, lp, keeper, nil, collector, backend)
	router := gin.New()
	s.RegisterRoutes(router)
	return s, router
}

func doRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAddElementAndList(t *testing.T) {
	_, router := newTestServer(t)

	params, err := json.Marshal(DroppingParams{MediaFiltered: "leaf"})
	require.NoError(t, err)
	spec := ElementSpec{Kind: dropping.ClassName, Name: "drop1", Params: params}

	w := doRequest(t, router, http.MethodPost, "/v1/elements", spec)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(t, router, http.MethodGet, "/v1/elements", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "drop1")
}

func TestAddElementUnknownKindFails(t *testing.T) {
	_, router := newTestServer(t)
	spec := ElementSpec{Kind: "not_a_real_kind", Name: "x", Params: json.RawMessage(`{}`)}
	w := doRequest(t, router, http.MethodPost, "/v1/elements", spec)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPlaylistPolicyLifecycle(t *testing.T) {
	s, router := newTestServer(t)
	s.mapper.Register(&fakeLeaf{name: "leaf"})

	sw := switching.New("sw1", s.mapper, s.lp, nil, tag.Capabilities{AnyKind: true, FlavourMask: 1}, 0, 0, false)
	s.mapper.Register(sw)

	params, err := json.Marshal(PlaylistParams{Element: "sw1", Playlist: []string{"leaf"}, LoopPlaylist: true})
	require.NoError(t, err)
	spec := PolicySpec{Kind: "playlist_policy", Name: "pl1", Params: params}
	w := doRequest(t, router, http.MethodPost, "/v1/policies", spec)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(t, router, http.MethodGet, "/v1/policies/pl1/play-info", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "leaf")

	w = doRequest(t, router, http.MethodGet, "/v1/switch/sw1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var resp SwitchCurrentMediaResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "leaf", resp.Media)
}

func TestAuthorizerLifecycle(t *testing.T) {
	_, router := newTestServer(t)

	spec := AuthorizerSpec{Name: "auth1", Params: json.RawMessage(`{"time_limit_ms": 60000}`)}
	w := doRequest(t, router, http.MethodPost, "/v1/authorizers", spec)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(t, router, http.MethodPost, "/v1/authorizers/auth1/users", SetUserPasswordRequest{User: "alice", Password: "hunter2"})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(t, router, http.MethodPost, "/v1/authorizers/auth1/authorize", AuthorizeRequest{User: "alice", Password: "hunter2"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"Authorized":true`)

	w = doRequest(t, router, http.MethodPost, "/v1/authorizers/auth1/authorize", AuthorizeRequest{User: "alice", Password: "wrong"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"Authorized":false`)
}

func TestResolveBackendLifecycle(t *testing.T) {
	_, router := newTestServer(t)

	w := doRequest(t, router, http.MethodPut, "/v1/resolve", SetResolveSpecRequest{Media: "show", ToPlay: []string{"ad", "episode"}, Loop: false})
	require.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(t, router, http.MethodPost, "/v1/resolve", ResolveRequestBody{Media: "show"})
	assert.Equal(t, http.StatusOK, w.Code)
	var resp ResolveResponseBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"ad", "episode"}, resp.ToPlay)

	w = doRequest(t, router, http.MethodPost, "/v1/resolve", ResolveRequestBody{Media: "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatsEndpointsEmpty(t *testing.T) {
	_, router := newTestServer(t)

	w := doRequest(t, router, http.MethodGet, "/v1/stats/stream-ids", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "stream_ids")

	w = doRequest(t, router, http.MethodGet, "/v1/stats/streams", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
