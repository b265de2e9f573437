// Package app provides the application service layer.
//
// Turns front-door queries into Twitch client lookups and decides what "no match" means for each use case.
// Sits between HTTP handlers and the Twitch adapter. Depends on domain interfaces, not concrete implementations.
package app
