// Package ratelimit provides a client-side token-bucket limiter for outbound
// API calls, keyed per target host.
package ratelimit
