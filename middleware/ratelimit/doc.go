// Package ratelimit fornece os adapters HTTP (net/http) do controle de admissão.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos (sem net/http)
//   - application: casos de uso (decisão admitir/rejeitar, acquire/timeout)
//   - infra: tabela de buckets, semáforo, estatísticas
//   - ratelimit (este pacote): middlewares HTTP, extração de chave e tradução
//     da decisão para status/headers
//
// Fluxo no gateway:
//
//  1. Extrai a chave do cliente (header/XFF/RemoteAddr, ou "unknown")
//  2. Pede a decisão para a camada application
//  3. Se rejeitado, responde 503 sem tocar no upstream
//  4. Se admitido, chama o próximo handler (o roteador do proxy)
package ratelimit
