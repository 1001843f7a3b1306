// Package client is the remote side of synchronization.
//
// # Overview
//
// Client is the transport-agnostic contract the reconciliation routine and
// the network monitor are written against: Ping, PushProgress, FetchCourses
// and FetchAgenda. GRPCClient implements it over a gRPC connection to
// churchkeeper.sync.v1.SyncService. Messages are google.protobuf.Struct
// documents carrying the same JSON field names the local store uses.
//
// # Headers
//
// Every call carries the device id and, when configured, a bearer token.
// Tenant-scoped calls add x-tenant-id; PushProgress adds idempotency-key so
// the server can drop replays of a record it has already applied.
//
// # Error Handling
//
// gRPC status codes are mapped to sentinel errors that callers match with
// errors.Is: ErrUnavailable (offline, timeouts) and ErrUnauthorized.
package client
