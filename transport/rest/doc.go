// Package rest is a small client for the game server's REST endpoints:
// creating and joining rooms, forcing a start, closing, and reading the
// theme, stats, round results and room summaries.
//
// Errors from the server are returned as *APIError carrying the server's
// "error" message when it sent one.
package rest
