package ports

import "github.com/bft-labs/replayship/internal/domain"

// LifecycleEvent is a visibility change of one UI unit (screen, window).
type LifecycleEvent int

const (
	// UnitStarted means a UI unit became visible.
	UnitStarted LifecycleEvent = iota
	// UnitStopped means a UI unit is no longer visible.
	UnitStopped
)

// String returns a human-readable representation of the event.
func (e LifecycleEvent) String() string {
	switch e {
	case UnitStarted:
		return "UnitStarted"
	case UnitStopped:
		return "UnitStopped"
	default:
		return "Unknown"
	}
}

// LifecycleSource delivers host lifecycle notifications.
type LifecycleSource interface {
	// Subscribe registers fn and returns a function that removes it.
	Subscribe(fn func(LifecycleEvent)) (unsubscribe func())
}

// Connectivity describes the transports currently available.
type Connectivity struct {
	WiFi     bool
	Cellular bool
}

// ConnectivitySource delivers network capability changes.
type ConnectivitySource interface {
	// Subscribe registers fn and returns a function that removes it.
	Subscribe(fn func(Connectivity)) (unsubscribe func())
}

// DeviceInfoProvider fingerprints the host device.
type DeviceInfoProvider interface {
	DeviceInfo() domain.DeviceInfo
}
