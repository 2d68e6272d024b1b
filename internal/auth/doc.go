// Package auth provides JWT authentication for the dashboard API.
//
// Operators authenticate with HS256 tokens signed by the configured
// jwt_secret. A token carries two claims beyond the standard set:
//
//   - sub: the operator name, used for control attribution
//   - org: the organization id that scopes every query the request makes
//
// Middleware validates the token from the Authorization header, falling
// back to a ?token= query parameter for EventSource clients, and attaches
// the resulting Identity to the request context.
//
// Webhook authentication is separate (a shared secret header) and lives in
// the gateway package.
package auth
