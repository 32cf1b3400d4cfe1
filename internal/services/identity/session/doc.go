// Package session issues and validates the session cookie.
//
// Sessions live in a gorilla/sessions cookie store, so the values are signed
// and encrypted by securecookie and neither readable nor forgeable by the
// client. Every session is stamped with the deployment environment and
// rejected anywhere else.
package session
