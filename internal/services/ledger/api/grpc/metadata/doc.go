// Package metadata provides utilities for handling gRPC request metadata.
//
// It defines the header keys the ledger reads from callers and provides an
// interceptor that moves them into the request context.
//
// # Header Constants
//
//   - TenantIDHeader: Scopes every read and command to one tenant.
//   - ActorRoleHeader: Role label recorded on appended events.
//   - AcceptLanguageHeader: Locale of user-facing error messages.
//   - RequestIDHeader: Correlates logs across service calls.
package metadata
