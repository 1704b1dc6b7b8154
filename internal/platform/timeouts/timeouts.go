// Package timeouts defines shared timeout constants used across the broker.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// UpstreamRequest caps a single liveness or revocation call to the upstream
// identity provider. The provider is consulted on the hot renewal path, so
// this stays short.
const UpstreamRequest = 5 * time.Second

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
