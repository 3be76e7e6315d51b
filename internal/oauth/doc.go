// Package oauth manages the OAuth2 credentials dav-proxy injects into
// forwarded requests.
//
// # Components
//
//   - Credentials: the client identity, read from a Google "installed
//     application" client secrets file
//   - Token: the token document, kept as raw JSON so unknown fields survive
//   - TokenStore: atomic persistence of the token document
//   - CaptureServer: loopback HTTP listener that records the authorization
//     redirect
//   - AuthorizationFlow: the interactive authorization code grant
//   - Manager: cached, single-flight access to a valid token, refreshing
//     or re-authorizing as needed
//   - TokenWatcher: reloads the Manager when another process rewrites the
//     token file
//
// # Token Acquisition
//
// Manager.Token answers from memory while the cached token is valid. When
// it is not, one acquisition runs for all concurrent callers:
//
//  1. Load the token file (first use only; a corrupt file counts as absent)
//  2. Refresh with the refresh token, if there is one
//  3. Otherwise, or when the provider answers invalid_grant, run the
//     AuthorizationFlow
//  4. Save the new token, then hand it to every waiting caller
//
// # Security
//
// Token files are written 0600 in a 0700 directory. Token values are never
// logged; log lines refer to a token through RedactedToken.Fingerprint.
// The authorization redirect is only accepted on 127.0.0.1 and must carry
// the random state generated for the flow.
package oauth
