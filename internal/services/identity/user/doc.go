// Package user defines the persisted account document that sessions,
// passkeys, guest conversion and profile edits all hang off.
package user
