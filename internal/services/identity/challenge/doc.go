// Package challenge issues single-use, time-boxed WebAuthn nonces.
//
// A challenge is consumed by deleting its document inside a transaction; the
// caller whose delete commits owns it. Expiry is checked against the clock at
// claim time, so correctness never depends on Sweep having run.
package challenge
