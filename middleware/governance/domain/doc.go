// Package domain define contratos e tipos de domínio da governança de tráfego:
// lease distribuído, bloqueio de login, rate limit, regras de IP e escopo de tenant.
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar regras de negócio
// de detalhes de infraestrutura (Redis, Postgres, arquivo de configuração).
package domain
