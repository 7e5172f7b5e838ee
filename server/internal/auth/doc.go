// Package auth provides authentication middleware for spikeqc-server.
//
// APIKeyInterceptor(mode, header, key) returns a gRPC UnaryServerInterceptor
// that validates the API key from the named gRPC metadata header.
// APIKeyMiddleware(mode, header, key, next) applies the same check to the
// REST API and WebSocket endpoint using the HTTP header of the same name.
//
// When mode != "apikey" or key == "", all calls pass through (useful for local
// development with auth disabled). When the key is incorrect or absent,
// gRPC calls fail with codes.Unauthenticated and HTTP requests with 401.
package auth
