// Package core provides the business logic of the employee import pipeline.
//
// This package holds all domain logic independent of any UI, transport or
// storage layer. It is used by the web handlers, the importctl CLI and tests
// without modification.
//
// # Architecture
//
// Data flows strictly forward through leaf components:
//
//   - [Mapper]: spreadsheet rows to [ImportRecord] values via header aliases.
//   - [Validator]: required fields, tax ID format, age range and organization
//     scope. Pure; returns one [ValidationError] per invalid record.
//   - [ConflictDetector]: batched lookup of stored employees by tax ID. Records
//     whose identity differs from the stored one become [ConflictRecord]s.
//   - [ResolutionStore]: the operator's update/skip decision per conflict,
//     defaulting to skip.
//   - [BatchExecutor]: one transaction, one isolated write per row, folded into
//     an [ImportOutcome].
//
// [Engine] composes these against storage interfaces and implements
// [Backend]. A [Session] drives one import through the stages
//
//	upload -> preview -> validated -> conflicts|ready -> executing -> reported
//
// and [Service] is the registry of sessions with timeouts and expiry.
//
// # Error Handling
//
// Technical errors are mapped to operator messages using [MapError]. Each
// category has a code for support reference:
//
//   - IMP001-IMP007: pipeline errors (wrong step, conflicts, resolutions, owner)
//   - SES001-SES002: session errors
//   - FILE001-FILE005: spreadsheet errors
//   - DB001-DB004: database errors
//   - BCK001, RATE001-RATE002, REQ001: backend, capacity and request errors
package core
