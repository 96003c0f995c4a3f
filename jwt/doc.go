// Package jwt signs and verifies the compact tokens issued by the engine:
// access, refresh, MFA-temporary, recovery, verification and impersonation.
// Every variant shares one [Claims] shape and is told apart by its type claim.
package jwt
