// Package httpmw provides the HTTP middleware shared by the portal API server.
//
// httpserver.NewHandler composes it outermost first: security headers, request
// ID, panic recovery, client identity, the public rate limiter, OTel tracing,
// trace response headers, metrics and the request logger. Inside the chi router
// come compression, route annotation, the access log and the body limit, then
// the per-group limiters and authorization.
//
// Client identity is resolved once by ClientIP and reused by the logger and
// the rate limiters so every layer agrees on who the caller is. Request
// bodies, query values, cookies and the Authorization header never reach the
// logs.
package httpmw
