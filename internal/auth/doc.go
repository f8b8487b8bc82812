// Package auth authenticates callers of the platform HTTP API.
//
// # Tokens
//
// Two verifiers implement TokenVerifier:
//
//   - JWTVerifier: HS256 JWTs whose "sub" claim is the participant id.
//     Expired tokens fail with ErrExpiredToken.
//
//   - StaticVerifier: a single shared token, compared in constant time.
//
// # Middleware
//
//	r.Use(auth.HTTPAuthMiddleware(verifier))
//
// The middleware reads "Authorization: Bearer <token>", answers 401 with a
// JSON error body on failure, and otherwise attaches an AuthContext that
// handlers retrieve with FromContext.
package auth
