// Package middleware exposes net/http adapters for the stampauth Engine.
//
// # Guards
//
//   - [Guard] authenticates the bearer token through Engine.Authenticate and
//     injects the [stampauth.Principal] into the request context.
//   - [RejectImpersonation] refuses impersonated principals on sensitive routes.
//
// [StatusCode] and [WriteError] map Engine errors to HTTP responses.
//
// # What this package must NOT do
//
//   - Parse or create tokens directly. Every decision is delegated to the Engine.
//   - Make authorization decisions beyond pass/reject.
package middleware
