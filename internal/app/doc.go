// Package app bootstraps the dav-proxy server.
//
// NewApplication turns a validated configuration into running components:
// a token provider (the OAuth token manager, a static token or a token
// command), the forwarder that relays requests upstream, and the listeners
// that serve it. Run blocks until the context is cancelled or the process
// receives SIGINT or SIGTERM.
package app
