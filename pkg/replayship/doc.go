// Package replayship provides an embeddable session recorder.
//
// A Tracker collects host events, logs, network calls and crashes as
// compact binary messages, batches them and ships them to an ingestion
// backend. With a Renderer it also captures frames of the host UI, seals
// them into archives and uploads those.
//
// # Basic Usage
//
//	cfg := replayship.DefaultConfig()
//	cfg.ProjectKey = "your-project-key"
//
//	t, err := replayship.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := t.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	if err := t.Start(ctx, nil); err != nil {
//	    log.Printf("recording not started: %v", err)
//	}
//
//	_ = t.Event("checkout", map[string]any{"items": 3})
//
//	_ = t.Stop(ctx, true)
//
// # Auto-recording
//
// Pass a [LifecycleSource] with [WithLifecycleSource] and call
// [Tracker.EnableAutoRecording]. Recording starts when the first UI unit
// becomes visible and stops once every unit has been gone for
// Config.BackgroundGrace.
//
// # Crashes
//
// Panics in goroutines started with [Go], or in functions that defer
// [Recover], are persisted and delivered while the panic proceeds.
// Crashes that could not be delivered are sent on the next Initialize.
//
// # Lifecycle States
//
// A Tracker is in one of [StateIdle], [StateInitialized], [StateRecording]
// or [StateStopping]. Use [Tracker.Status] to query it and
// [WithEventHandler] to observe transitions.
package replayship
