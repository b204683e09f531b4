// Package middleware provides HTTP middleware components for the benchmark server.
//
// Available middleware:
//   - RateLimiter: Per-client rate limiting using token bucket algorithm
//   - Logging: Request ids and request logging
//   - MaxBytes: Request body size limit
//
// Usage:
//
//	rl := middleware.NewRateLimiter(middleware.PerMinute(30))
//	defer rl.Stop()
//	handler = middleware.Logging(log)(rl.Middleware(handler))
package middleware
