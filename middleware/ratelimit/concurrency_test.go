package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"admission-gateway/metrics"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrencyMiddleware_TimesOutWhenNoSlot(t *testing.T) {
	pool := infra.NewChanPool(1)
	m := metrics.New(prometheus.NewRegistry())

	h := ConcurrencyMiddleware(ConcurrencyOptions{
		Pool:           pool,
		AcquireTimeout: 25 * time.Millisecond,
		Metrics:        m,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without a slot")
	}))

	// a única vaga fica presa fora do middleware
	release, ok := pool.Acquire(context.Background())
	require.True(t, ok)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "Service Unavailable\n", w.Body.String())

	release()
	assert.EqualValues(t, 0, pool.InUse())
}

func TestConcurrencyMiddleware_ReleasesSlotAfterRequest(t *testing.T) {
	pool := infra.NewChanPool(1)
	var inFlight int64

	h := ConcurrencyMiddleware(ConcurrencyOptions{Pool: pool, AcquireTimeout: 25 * time.Millisecond})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			inFlight = pool.InUse()
		}))

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://example/", nil))
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}
	assert.EqualValues(t, 1, inFlight)
	assert.EqualValues(t, 0, pool.InUse())
}

func TestConcurrencyMiddleware_DisabledPassesThrough(t *testing.T) {
	called := false
	h := ConcurrencyMiddleware(ConcurrencyOptions{Max: 0})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "http://example/", nil))
	assert.True(t, called)
}

func TestConcurrencyMiddleware_CountsRejects(t *testing.T) {
	pool := infra.NewChanPool(1)
	reg := prometheus.NewRegistry()
	h := ConcurrencyMiddleware(ConcurrencyOptions{
		Pool:           pool,
		AcquireTimeout: time.Millisecond,
		Metrics:        metrics.New(reg),
	})(http.NotFoundHandler())

	release, ok := pool.Acquire(context.Background())
	require.True(t, ok)
	defer release()

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "http://example/", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "http://example/", nil))

	n, err := testutil.GatherAndCount(reg, "gateway_concurrency_rejections_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == "gateway_concurrency_rejections_total" {
			assert.EqualValues(t, 2, mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
}
