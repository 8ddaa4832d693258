// Package application contém os casos de uso da governança de tráfego:
// lease distribuído (LockManager), bloqueio de login (LockoutTracker), rate limit
// (RateLimiter), avaliação de IP (IPEvaluator), resolução de escopo (ScopeResolver)
// e o Pipeline que encadeia tudo por request.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Pipeline.Evaluate(ctx, req) retorna uma Decision (allow/deny + etapa + retry-after).
//
// Os componentes nunca chamam uns aos outros diretamente: o estado compartilhado
// passa sempre pelo domain.CoordinationStore e pelo LockManager.
package application
