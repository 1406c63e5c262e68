// Package session makes authenticated portal calls resilient to session
// expiry without leaking authentication concerns into callers.
//
// A Session wraps an *http.Client with a pair of hooks: Before attaches the
// current credential to the outgoing request, After inspects the response
// for the portal's invalidation markers and re-authenticates in place. When
// re-authentication was triggered, Invoke reports ErrUnauthorized and the
// bounded retry wrapper (Do) replays the original call.
package session
