// Package governance fornece adapters HTTP (net/http) para a governança de tráfego
// do gateway: avaliação de IP, rate limit distribuído, bloqueio de login e limite
// de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (lease, lockout, rate limit, IP, escopo, pipeline) sem net/http
//   - infra: implementações concretas (Redis, memória, Postgres, viper, Prometheus)
//   - governance (este pacote): middlewares HTTP + extração de IP + tradução para status/headers
//
// Fluxo no gateway:
//
//   1) Extrai IP do cliente (header confiável/XFF/RemoteAddr) e monta o RequestMeta
//   2) Pipeline resolve o escopo (tenant/cliente/rota), avalia IP e rate limit
//   3) Se bloqueado, responde 403 (IP), 429 (rate limit) ou 503 (store fora / concorrência)
//   4) Se permitido, chama o próximo handler (ex: reverse proxy)
//   5) Na rota de login, LoginGuard bloqueia contas em lockout (423) e registra o
//      resultado da autenticação devolvido pelo upstream
package governance
