// Package client contains the client-side boundary with the outside world.
//
// It provides:
//  1. Transport, the contract the fetch scheduler downloads through:
//     FetchRange resumes a locator from a byte offset and reports the offset
//     the origin actually honoured; RefreshLocators swaps expired locators
//     for fresh ones.
//  2. HTTPTransport, the HTTP implementation, which maps status codes onto
//     the sentinel errors of package common.
//  3. Locator refreshers: S3Presigner signs GET URLs directly against the
//     bucket, EndpointRefresher asks a JSON endpoint.
//  4. LocatorExpiry, which reads the embedded expiry of a signed locator.
//  5. Local persistence bootstrap (InitDatabase, RunMigrations,
//     NewRepositories) over SQLite with embedded goose migrations.
//
// All operations accept context.Context and honour cancellation.
package client
