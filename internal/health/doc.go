// Package health provides composable probes and the HTTP handlers that
// expose them as liveness and readiness endpoints.
//
// Probes combine with [All] (AND) and [Fixed] (static).
// [ShutdownGate] fails readiness as soon as draining starts so load
// balancers stop routing before in-flight requests finish.
package health
