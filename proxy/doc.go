// Package proxy encaminha as requisições admitidas para os upstreams.
//
// O roteamento é por prefixo de path (o mais específico ganha), cada rota com
// seu httputil.ReverseProxy. Na ida são injetados X-Real-IP, X-Forwarded-Proto e
// X-Request-Id; na volta os headers que identificam o backend são removidos.
// Falha de upstream vira um 502 uniforme, sem detalhes internos.
package proxy
