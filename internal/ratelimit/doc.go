// Package ratelimit provides per-client fixed-window request limiting with
// bounded memory.
//
// This is a single-instance, in-memory limiter. Every process keeps its own
// table, so behind a load balancer the effective limit scales with the number
// of instances. It does not protect against distributed attacks that stay under
// the per-client limit; use an upstream WAF or CDN-level limiting for those.
package ratelimit
