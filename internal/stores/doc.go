// Package stores provides the TTL-keyed key/value backends used for
// short-lived security state: MFA sessions and the token denylist.
//
// # Design
//
// [KV] is the single contract. [RedisKV] persists values in Redis and
// performs read-modify-write through WATCH/MULTI optimistic transactions
// with bounded retry. [MemoryKV] keeps values in a mutex-guarded map with
// lazy expiry plus an explicit [MemoryKV.Sweep], and reads time from an
// injected clock so tests control expiry.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control only. Record
// encoding, attempt limits and token semantics belong to the session and
// jwt packages.
//
// # What this package must NOT do
//
//   - Import gmpAuth or any sibling package.
//   - Interpret the bytes it stores.
package stores
