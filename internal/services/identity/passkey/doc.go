// Package passkey runs WebAuthn registration and discoverable login.
//
// Credentials live under users/{uid}/passkeys and are mirrored by a global
// passkeyCredentials index so the unauthenticated login path can resolve a
// credential id to its owner in one read. Credential, index and the owner's
// passkey counter are always written in one transaction; an index entry whose
// credential is gone is pruned when login trips over it.
package passkey
