// Package httpmw holds the middleware stack of the planning API.
//
// httpserver.NewHandler composes it outermost first: recover, security
// headers, request id, client ip, rate limiting, tracing, trace headers,
// rule-set headers, metrics, logger, access log, body limit, router.
//
// Request bodies, module ids and query strings are never logged; they are
// caller-controlled and can be large.
package httpmw
