package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seen struct {
	path    string
	headers http.Header
}

func upstream(t *testing.T, name string, got *seen) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.headers = r.Header.Clone()
		w.Header().Set("Server", "nginx/1.25.3")
		w.Header().Set("X-Powered-By", "Express")
		_, _ = io.WriteString(w, name)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func quietRouter(t *testing.T, mappings []PathMapping) *Router {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	rt, err := NewRouter(mappings, WithLogger(logger))
	require.NoError(t, err)
	return rt
}

func serve(h http.Handler, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestRouter_RoutesByLongestPrefix(t *testing.T) {
	var web, api seen
	webSrv := upstream(t, "web", &web)
	apiSrv := upstream(t, "api", &api)

	rt := quietRouter(t, DefaultMappings(webSrv.URL, apiSrv.URL))

	w := serve(rt, httptest.NewRequest(http.MethodGet, "http://gateway/index.html", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "web", w.Body.String())
	assert.Equal(t, "/index.html", web.path)

	w = serve(rt, httptest.NewRequest(http.MethodGet, "http://gateway/api/users", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "api", w.Body.String())
	assert.Equal(t, "/api/users", api.path, "prefix is kept by default")

	m, ok := rt.Match("/api/v1/x")
	require.True(t, ok)
	assert.Equal(t, "api", m.Name)
	m, ok = rt.Match("/apix")
	require.True(t, ok)
	assert.Equal(t, "web", m.Name)
}

func TestRouter_StripPrefix(t *testing.T) {
	var api seen
	apiSrv := upstream(t, "api", &api)

	rt := quietRouter(t, []PathMapping{{Path: "/api/", Backend: apiSrv.URL, StripPrefix: true}})

	serve(rt, httptest.NewRequest(http.MethodGet, "http://gateway/api/users/7", nil))
	assert.Equal(t, "/users/7", api.path)

	serve(rt, httptest.NewRequest(http.MethodGet, "http://gateway/api/", nil))
	assert.Equal(t, "/", api.path)
}

func TestRouter_InjectsForwardHeadersAndHardensResponse(t *testing.T) {
	var web seen
	webSrv := upstream(t, "web", &web)
	rt := quietRouter(t, DefaultMappings(webSrv.URL, ""))

	r := httptest.NewRequest(http.MethodGet, "http://gateway/", nil)
	r.RemoteAddr = "203.0.113.9:51000"
	w := serve(rt, r)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "203.0.113.9", web.headers.Get("X-Real-IP"))
	assert.Equal(t, "203.0.113.9", web.headers.Get("X-Forwarded-For"))
	assert.Equal(t, "http", web.headers.Get("X-Forwarded-Proto"))

	id := web.headers.Get("X-Request-Id")
	_, err := uuid.Parse(id)
	require.NoError(t, err, "expected generated request id, got %q", id)
	assert.Equal(t, id, w.Header().Get("X-Request-Id"))

	assert.Empty(t, w.Header().Get("Server"))
	assert.Empty(t, w.Header().Get("X-Powered-By"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "SAMEORIGIN", w.Header().Get("X-Frame-Options"))
}

func TestRouter_KeepsIncomingRequestID(t *testing.T) {
	var web seen
	webSrv := upstream(t, "web", &web)
	rt := quietRouter(t, DefaultMappings(webSrv.URL, ""))

	r := httptest.NewRequest(http.MethodGet, "http://gateway/", nil)
	r.Header.Set("X-Request-Id", "abc-123")
	w := serve(rt, r)

	assert.Equal(t, "abc-123", web.headers.Get("X-Request-Id"))
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-Id"))
}

func TestRouter_UpstreamDownIsUniform502(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	logger, hook := logtest.NewNullLogger()
	rt, err := NewRouter(DefaultMappings(deadURL, ""), WithLogger(logger))
	require.NoError(t, err)

	w := serve(rt, httptest.NewRequest(http.MethodGet, "http://gateway/", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "Bad Gateway\n", w.Body.String())

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestRouter_NoRouteIs404(t *testing.T) {
	var api seen
	apiSrv := upstream(t, "api", &api)
	rt := quietRouter(t, DefaultMappings("", apiSrv.URL))

	w := serve(rt, httptest.NewRequest(http.MethodGet, "http://gateway/", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNewRouter_RejectsInvalidMappings(t *testing.T) {
	_, err := NewRouter([]PathMapping{{Path: "/", Backend: "not a url"}})
	assert.ErrorContains(t, err, "invalid route mappings")
}

func TestWithAccessLog_RecordsStatus(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	h := WithAccessLog(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	}))

	serve(h, httptest.NewRequest(http.MethodGet, "http://gateway/api/x", nil))

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, http.StatusServiceUnavailable, entry.Data["status"])
	assert.Equal(t, "/api/x", entry.Data["path"])
}
