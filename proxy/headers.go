package proxy

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-Id"

// headers que entregam detalhes do backend
var hiddenResponseHeaders = []string{"Server", "X-Powered-By", "X-AspNet-Version"}

// injectForwardHeaders roda na requisição de saída, depois do Director padrão.
func injectForwardHeaders(out *http.Request) {
	if host, _, err := net.SplitHostPort(out.RemoteAddr); err == nil {
		out.Header.Set("X-Real-IP", host)
	}

	proto := "http"
	if out.TLS != nil {
		proto = "https"
	}
	out.Header.Set("X-Forwarded-Proto", proto)

	if strings.TrimSpace(out.Header.Get(requestIDHeader)) == "" {
		out.Header.Set(requestIDHeader, uuid.NewString())
	}
}

// hardenResponse remove a identificação do backend e acrescenta os headers de
// segurança padrão, sem sobrescrever o que o upstream já definiu.
func hardenResponse(resp *http.Response) error {
	for _, h := range hiddenResponseHeaders {
		resp.Header.Del(h)
	}
	if resp.Header.Get("X-Content-Type-Options") == "" {
		resp.Header.Set("X-Content-Type-Options", "nosniff")
	}
	if resp.Header.Get("X-Frame-Options") == "" {
		resp.Header.Set("X-Frame-Options", "SAMEORIGIN")
	}
	return nil
}

// stripPrefix tira o prefixo da rota do path: /api/users -> /users.
func stripPrefix(out *http.Request, prefix string) {
	p := strings.TrimSuffix(prefix, "/")
	if p == "" {
		return
	}
	rest := strings.TrimPrefix(out.URL.Path, p)
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	out.URL.Path = rest
	out.URL.RawPath = ""
}
