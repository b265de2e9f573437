// Package domain defines the records this service relays and the contracts between layers.
//
// User and Stream mirror the Twitch Helix payloads field for field. TwitchClient is the
// consumer-side interface the application layer depends on; errors.go holds the sentinel
// errors every layer uses to classify failures. No implementation code lives here.
package domain
