package proxy

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"sort"
	"strings"

	"admission-gateway/metrics"

	"github.com/sirupsen/logrus"
)

// Router escolhe o upstream pelo prefixo mais longo que casa com o path.
// Ele não decide se a requisição entra: isso é do middleware de rate limit.
type Router struct {
	routes []route
	logger logrus.FieldLogger
}

type route struct {
	mapping PathMapping
	handler http.Handler
}

type routerOptions struct {
	logger    logrus.FieldLogger
	metrics   *metrics.Metrics
	transport http.RoundTripper
}

type Option func(*routerOptions)

func WithLogger(l logrus.FieldLogger) Option {
	return func(o *routerOptions) { o.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *routerOptions) { o.metrics = m }
}

// WithTransport troca o http.RoundTripper usado para falar com os upstreams.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *routerOptions) { o.transport = rt }
}

func NewRouter(mappings []PathMapping, opts ...Option) (*Router, error) {
	o := routerOptions{logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	if err := ValidateMappings(mappings); err != nil {
		return nil, fmt.Errorf("invalid route mappings: %w", err)
	}

	rt := &Router{logger: o.logger}
	for _, m := range mappings {
		m := m
		u, _ := m.validate()

		p := httputil.NewSingleHostReverseProxy(u)
		if o.transport != nil {
			p.Transport = o.transport
		}
		director := p.Director
		p.Director = func(out *http.Request) {
			if m.StripPrefix {
				stripPrefix(out, m.Path)
			}
			director(out)
			injectForwardHeaders(out)
		}
		p.ModifyResponse = func(resp *http.Response) error {
			if resp.Request != nil {
				if id := resp.Request.Header.Get(requestIDHeader); id != "" {
					resp.Header.Set(requestIDHeader, id)
				}
			}
			return hardenResponse(resp)
		}
		logger := o.logger.WithFields(logrus.Fields{"upstream": m.name(), "backend": u.String()})
		p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
			logger.WithError(err).WithField("path", r.URL.Path).Error("proxy error")
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		}

		logger.WithField("path", m.Path).Debug("adding route")
		rt.routes = append(rt.routes, route{
			mapping: m,
			handler: o.metrics.WithLatencyTracking(m.name(), p),
		})
	}

	// mais específico primeiro: /api/v1/ antes de /api/ antes de /
	sort.SliceStable(rt.routes, func(i, j int) bool {
		return len(rt.routes[i].mapping.Path) > len(rt.routes[j].mapping.Path)
	})
	return rt, nil
}

// Match devolve a rota que atenderia o path.
func (rt *Router) Match(path string) (PathMapping, bool) {
	for _, r := range rt.routes {
		if strings.HasPrefix(path, r.mapping.Path) {
			return r.mapping, true
		}
	}
	return PathMapping{}, false
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	for _, route := range rt.routes {
		if strings.HasPrefix(r.URL.Path, route.mapping.Path) {
			route.handler.ServeHTTP(w, r)
			return
		}
	}
	http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
}
