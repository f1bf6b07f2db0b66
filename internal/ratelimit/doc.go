// Package ratelimit is per-client rate limiting for the planning API.
//
// It is a single-instance, in-memory limiter: each client IP gets a token
// bucket, idle buckets are evicted, and the number of tracked clients is
// capped so a spray of source addresses cannot grow memory without bound.
// It does not protect against distributed floods; that belongs upstream.
package ratelimit
