// Package timeouts defines the deadlines shared by the identity servers and
// their health probe.
package timeouts

import "time"

// HealthProbe caps a -healthcheck run, including dial and retries.
const HealthProbe = 4 * time.Second

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers drain in-flight work on exit.
const Shutdown = 5 * time.Second
