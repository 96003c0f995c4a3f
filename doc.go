// Package stampauth is a multi-tenant credential and session security core.
//
// It validates passwords, issues and refreshes signed access/refresh token
// pairs, drives TOTP enrollment and MFA login, and runs the password recovery,
// email verification and impersonation flows. Session validity is anchored on
// a per-user security stamp: every stamp-bearing token embeds the stamp that
// was current when it was minted, and any password change, MFA change, email
// verification or logout rotates the stamp, revoking all outstanding tokens in
// one write.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// stampauth is the public surface. It exposes [Engine], [Builder], [Config]
// and the request/result value types. Collaborators are interfaces:
// [CredentialStore] persists records (see store/memory, store/redisstore and
// store/postgres), [TokenSigner], [TotpEngine], [SecretCipher] and
// [PasswordHasher] default to the jwt, totp, secret and password packages, and
// [Notifier] receives events such as password_reset_requested.
//
// # What this package must NOT do
//
//   - Decide authorization. Who may impersonate whom is the caller's call.
//   - Enforce lockout or rate limits. The failed-attempt counter is recorded
//     for an external policy.
//   - Store or log plaintext TOTP secrets, passwords or tokens.
//
// # Stamp rotation
//
// Rotations are conditional writes: the store applies a [Patch] only while
// the stored stamp still equals Patch.IfStamp. A token-driven flow that loses
// the race fails with [ErrTokenRevoked]; user-driven flows re-read and retry
// once before returning [ErrConcurrentUpdate].
package stampauth
