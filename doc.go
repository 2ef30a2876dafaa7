// Package authcore implements the authentication and session-security core of
// the code-audit platform: password login, JWT issuance and validation,
// logout revocation, and the two-phase multi-factor login flow (TOTP and
// emailed codes, recovery codes, challenge tokens).
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the orchestrator. It exposes [Engine], [Builder], [Config], the
// error taxonomy, and the collaborator interfaces ([CredentialStore],
// [RoleProvider], [Notifier], [Clock]). The composable primitives live in
// their own packages: token (the three token kinds), secretbox (secrets at
// rest), password (Argon2id), revocation (the jti registry). Persistence for
// business entities, object storage, and rate limiting are external
// collaborators and never appear here.
//
// # What this package must NOT do
//
//   - Re-derive roles on every request. Role names are stamped into access
//     tokens at issuance; stale roles persist until refresh or expiry. Refresh
//     re-derives from [RoleProvider].
//   - Distinguish failure causes to the caller beyond the documented error
//     kinds. Bad email, bad password, and inactive account are all
//     [ErrInvalidCredentials]; every failed code check is [ErrInvalidCode].
//   - Leak plaintext secrets, seeds, or key material through error values or
//     audit events.
//
// # Revocation tradeoff
//
// The revocation registry is consulted on every validated request. If the
// registry backend is unavailable the engine fails open: the token is treated
// as not revoked, the event is counted, and natural expiry remains the hard
// backstop. Logout is best-effort by design.
package authcore
