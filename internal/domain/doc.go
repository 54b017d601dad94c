// Package domain contains the core domain entities and value objects for replayship.
//
// This package represents the innermost layer of the Clean Architecture. It has
// no dependencies on infrastructure concerns (HTTP, file system, logging) and
// contains only pure business logic.
//
// # Entities
//
//   - [Message]: A single serialized telemetry event (kind, timestamp, payload)
//   - [Batch]: An indexed run of messages delivered as one byte stream
//   - [Session]: The negotiated recording session (id, bearer token, project)
//   - [FrameRecord]: A captured screen frame on disk awaiting archival
//   - [State]: Persistent agent state that survives process restarts
//
// # Design Principles
//
// Domain entities are:
//   - Immutable after construction (where practical)
//   - Free of infrastructure dependencies
//   - Focused on business rules and invariants
//   - Testable without mocks or external systems
package domain
