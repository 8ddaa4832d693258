// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - RedisStore / MemoryStore: CoordinationStore em Redis (scripts Lua) ou em memória
//   - LocalLimiter: token bucket local por chave usando golang.org/x/time/rate (modo FailLocal)
//   - FileSettings: configuração viva via viper + fsnotify
//   - PostgresRuleSource / PostgresUserDirectory: leitura do store de administração
//   - *StatsStore: estatísticas de decisão em memória, Redis ou Prometheus
//   - ChanPool: semáforo simples para limite de concorrência
package infra
