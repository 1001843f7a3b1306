// Package cli provides the interactive churchkeeper command-line client.
//
// It wires configuration, local storage, the sync client and an interactive
// REPL that keeps working offline. Typical flow: pick a tenant and a user,
// record lesson progress, and let the connectivity watcher push it when the
// server becomes reachable.
//
// Key features:
//   - Tenant switching with background eviction of the previous tenant
//   - Progress recording into the pending-change queue
//   - Cached course and agenda listings
//   - Manual sync, deferred background sync registration
//   - Install and notification prompts
//
// If local storage cannot be opened the client runs online-only: reads go
// straight to the server and progress is pushed without queueing.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
// See App and runREPL for details.
package cli
