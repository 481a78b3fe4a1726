// Package output renders services, credentials and session status as tables
// or as JSON/YAML documents.
package output
