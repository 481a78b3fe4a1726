// Package session holds the cached login session and the stores that persist
// it between runs: a checksummed key=value file replaced atomically, or the OS
// keychain.
package session
