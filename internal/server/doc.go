// Package server runs the dav-proxy HTTP listeners.
//
// The proxy handler can be served on a TCP address, a unix socket, or on
// sockets passed in by systemd socket activation. Readiness and shutdown are
// reported to systemd when running under it. An optional second listener
// exposes Prometheus metrics on /metrics and a liveness probe on /healthz.
package server
