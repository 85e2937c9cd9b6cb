// Package secrets implements an anonymous secret sharing web application:
// local email and password accounts, Google federated login, and a shared
// secrets wall.
//
// Sessions:
//   - A signed JWT stored in an HTTP-only cookie is the session. Signing in
//     (either strategy) issues the token; signing out deletes the cookie.
//     Every request re-resolves the cookie through the jwtware middleware, so
//     there is no server-side session state.
//
// Accounts:
//   - Users registers local accounts (bcrypt password hashes) and resolves
//     Google subjects with find-or-create semantics. A row always has either
//     a password hash or a google_id; the two strategies converge on the same
//     users table.
//
// HTTP:
//   - RegisterWebRoutes wires the page controllers; the social package adds
//     the OAuth begin/callback routes. Pages render through the shared view
//     engine with the current user injected for templates.
package secrets
