package codec

import "github.com/bft-labs/replayship/internal/domain"

// BatchMeta opens every batch and carries its first message index.
type BatchMeta struct {
	FirstIndex uint64
}

func (BatchMeta) Kind() domain.Kind { return domain.KindBatchMeta }

func (e BatchMeta) AppendPayload(dst []byte) []byte {
	return appendUint(dst, e.FirstIndex)
}

// Metadata attaches a key/value pair to the session.
type Metadata struct {
	Key   string
	Value string
}

func (Metadata) Kind() domain.Kind { return domain.KindMetadata }

func (e Metadata) AppendPayload(dst []byte) []byte {
	dst = appendString(dst, e.Key)
	return appendString(dst, e.Value)
}

// CustomEvent is an application-defined event with a JSON payload.
type CustomEvent struct {
	Name    string
	Payload string
}

func (CustomEvent) Kind() domain.Kind { return domain.KindEvent }

func (e CustomEvent) AppendPayload(dst []byte) []byte {
	dst = appendString(dst, e.Name)
	return appendString(dst, e.Payload)
}

// UserID identifies the signed-in user.
type UserID struct {
	ID string
}

func (UserID) Kind() domain.Kind { return domain.KindUserID }

func (e UserID) AppendPayload(dst []byte) []byte {
	return appendString(dst, e.ID)
}

// UserAnonymousID identifies an anonymous user.
type UserAnonymousID struct {
	ID string
}

func (UserAnonymousID) Kind() domain.Kind { return domain.KindUserAnonymousID }

func (e UserAnonymousID) AppendPayload(dst []byte) []byte {
	return appendString(dst, e.ID)
}

// Crash describes an uncaught fault.
type Crash struct {
	Name       string
	Reason     string
	Stacktrace string
}

func (Crash) Kind() domain.Kind { return domain.KindCrash }

func (e Crash) AppendPayload(dst []byte) []byte {
	dst = appendString(dst, e.Name)
	dst = appendString(dst, e.Reason)
	return appendString(dst, e.Stacktrace)
}

// ClickEvent is a tap on a labelled element.
type ClickEvent struct {
	Label string
	X     uint64
	Y     uint64
}

func (ClickEvent) Kind() domain.Kind { return domain.KindClickEvent }

func (e ClickEvent) AppendPayload(dst []byte) []byte {
	dst = appendString(dst, e.Label)
	dst = appendUint(dst, e.X)
	return appendUint(dst, e.Y)
}

// InputEvent is a text input change.
type InputEvent struct {
	Value       string
	ValueMasked bool
	Label       string
}

func (InputEvent) Kind() domain.Kind { return domain.KindInputEvent }

func (e InputEvent) AppendPayload(dst []byte) []byte {
	dst = appendString(dst, e.Value)
	dst = appendBool(dst, e.ValueMasked)
	return appendString(dst, e.Label)
}

// PerformanceEvent is a named numeric sample (memory, cpu, fps).
type PerformanceEvent struct {
	Name  string
	Value uint64
}

func (PerformanceEvent) Kind() domain.Kind { return domain.KindPerformanceEvent }

func (e PerformanceEvent) AppendPayload(dst []byte) []byte {
	dst = appendString(dst, e.Name)
	return appendUint(dst, e.Value)
}

// Log is an application log line.
type Log struct {
	Severity string
	Content  string
}

func (Log) Kind() domain.Kind { return domain.KindLog }

func (e Log) AppendPayload(dst []byte) []byte {
	dst = appendString(dst, e.Severity)
	return appendString(dst, e.Content)
}

// InternalError reports a failure inside the agent itself.
type InternalError struct {
	Content string
}

func (InternalError) Kind() domain.Kind { return domain.KindInternalError }

func (e InternalError) AppendPayload(dst []byte) []byte {
	return appendString(dst, e.Content)
}

// NetworkCall records an HTTP exchange made by the host application.
type NetworkCall struct {
	Type     string
	Method   string
	URL      string
	Request  string
	Response string
	Status   uint64
	Duration uint64
}

func (NetworkCall) Kind() domain.Kind { return domain.KindNetworkCall }

func (e NetworkCall) AppendPayload(dst []byte) []byte {
	dst = appendString(dst, e.Type)
	dst = appendString(dst, e.Method)
	dst = appendString(dst, e.URL)
	dst = appendString(dst, e.Request)
	dst = appendString(dst, e.Response)
	dst = appendUint(dst, e.Status)
	return appendUint(dst, e.Duration)
}

// SwipeEvent is a swipe gesture.
type SwipeEvent struct {
	Label     string
	X         uint64
	Y         uint64
	Direction string
}

func (SwipeEvent) Kind() domain.Kind { return domain.KindSwipeEvent }

func (e SwipeEvent) AppendPayload(dst []byte) []byte {
	dst = appendString(dst, e.Label)
	dst = appendUint(dst, e.X)
	dst = appendUint(dst, e.Y)
	return appendString(dst, e.Direction)
}
