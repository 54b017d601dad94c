package domain

import "fmt"

// Kind tags the type of a wire message. Values are protocol constants shared
// with the ingestion backend.
type Kind uint8

const (
	KindMetadata         Kind = 92
	KindEvent            Kind = 93
	KindUserID           Kind = 94
	KindUserAnonymousID  Kind = 95
	KindCrash            Kind = 97
	KindClickEvent       Kind = 100
	KindInputEvent       Kind = 101
	KindPerformanceEvent Kind = 102
	KindLog              Kind = 103
	KindInternalError    Kind = 104
	KindNetworkCall      Kind = 105
	KindSwipeEvent       Kind = 106
	KindBatchMeta        Kind = 107
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindMetadata:
		return "Metadata"
	case KindEvent:
		return "Event"
	case KindUserID:
		return "UserID"
	case KindUserAnonymousID:
		return "UserAnonymousID"
	case KindCrash:
		return "Crash"
	case KindClickEvent:
		return "ClickEvent"
	case KindInputEvent:
		return "InputEvent"
	case KindPerformanceEvent:
		return "PerformanceEvent"
	case KindLog:
		return "Log"
	case KindInternalError:
		return "InternalError"
	case KindNetworkCall:
		return "NetworkCall"
	case KindSwipeEvent:
		return "SwipeEvent"
	case KindBatchMeta:
		return "BatchMeta"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Message is a single telemetry event as decoded from the wire.
// Timestamp is milliseconds since the unix epoch.
type Message struct {
	Kind      Kind
	Timestamp uint64
	Payload   []byte
}
