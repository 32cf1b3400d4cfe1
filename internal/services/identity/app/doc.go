// Package app composes and runs the identity process boundary.
//
// It opens the configured document store, builds the session, passkey,
// guest and profile services on top of it, and serves them over HTTP next to
// a gRPC health endpoint and the background sweeper.
package app
