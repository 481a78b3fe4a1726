// Package client implements the HTTP client for the API management admin API
// (accounts, services, application plans and applications), built on resty
// with correlation IDs, client-side rate limiting and GET-only retries.
package client
