// Package ports defines the interfaces (ports) that connect the application
// layer to infrastructure adapters and host collaborators.
//
// # Port Interfaces
//
//   - [Delivery]: Sends batches, late payloads and media to the backend
//   - [SessionClient]: Negotiates and clears the recording session
//   - [StateRepository]: Persists and loads agent state (last token, user UUID)
//   - [SpillStore]: Append-only local persistence for undeliverable bytes
//   - [Renderer]: Renders the current UI surface into an image
//   - [LifecycleSource]: Host foreground/background notifications
//   - [ConnectivitySource]: Host network capability notifications
//   - [DeviceInfoProvider]: Device fingerprint for session negotiation
//   - [Logger]: Structured logging abstraction
//   - [HTTPClient]: HTTP request abstraction for dependency injection
//
// # Usage
//
// The application layer (internal/app, internal/frames, internal/crash)
// depends only on these interfaces. Infrastructure adapters
// (internal/adapters) implement them with concrete implementations.
package ports
