// Package twitch talks to the Twitch OAuth and Helix APIs on behalf of the service.
//
// TokenSource owns the app access token (client credentials grant). It caches one token,
// refreshes it shortly before expiry and collapses concurrent refreshes into a single call
// to the token endpoint. Client issues Helix requests through nicklaw5/helix with the
// current token and wraps them in retries, a circuit breaker and Ratelimit-Reset pacing.
package twitch
