// Package server provides the small HTTP layer jukebox needs: a method-aware router, middleware and the
// OAuth2 callback used by "jukebox auth spotify".
//
// [Authorize] starts a temporary listener on the configured server address, hands the consent URL to the
// browser, waits for the redirect handled by [OAuthHandler] and shuts the listener down again.
//
// [Middleware] is applied in the order it is added, so the first middleware is the outermost wrapper.
package server
