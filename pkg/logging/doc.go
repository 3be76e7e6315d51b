// Package logging provides the structured logger used across dav-proxy.
//
// It is a thin layer over log/slog that tags every entry with a subsystem
// name, so output from the proxy, the credential manager and the loopback
// capture server can be told apart and filtered.
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//	logging.Info("Proxy", "Forwarding %s %s", method, target)
//	logging.Error("OAuth", err, "Token refresh failed")
//
// JSON output is available for log shippers:
//
//	logging.Init(logging.LevelDebug, logging.FormatJSON, os.Stderr)
//
// # Audit Logging
//
// Credential lifecycle events are reported through Audit:
//
//	logging.Audit(logging.AuditEvent{
//	    Action:  "token_refresh",
//	    Outcome: "success",
//	    Target:  tokenFile,
//	})
//
// Audit entries are written at INFO level with an [AUDIT] prefix. They never
// contain token values.
package logging
