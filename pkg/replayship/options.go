package replayship

import (
	"net/http"

	"github.com/bft-labs/replayship/internal/domain"
	"github.com/bft-labs/replayship/internal/ports"
	"github.com/bft-labs/replayship/pkg/log"
)

// Version of the tracker reported to the backend.
const Version = "1.0.0"

// Recording options and host capabilities, re-exported from the internal packages.
type (
	// Options controls what a recording captures.
	Options = domain.Options

	// OptionsOverride carries per-start changes; nil fields keep the defaults.
	OptionsOverride = domain.OptionsOverride

	// Quality selects frame compression and resolution.
	Quality = domain.Quality

	// DeviceInfo describes the host device for session negotiation.
	DeviceInfo = domain.DeviceInfo

	// HTTPClient is satisfied by *http.Client.
	HTTPClient = ports.HTTPClient

	// Logger is the structured logging interface from pkg/log.
	Logger = log.Logger

	// Renderer renders the host's current UI surface.
	Renderer = ports.Renderer

	// RendererFunc adapts a function to Renderer.
	RendererFunc = ports.RendererFunc

	// LifecycleSource delivers UI visibility changes.
	LifecycleSource = ports.LifecycleSource

	// LifecycleEvent is one visibility change.
	LifecycleEvent = ports.LifecycleEvent

	// ConnectivitySource delivers network capability changes.
	ConnectivitySource = ports.ConnectivitySource

	// Connectivity describes the transports currently available.
	Connectivity = ports.Connectivity

	// DeviceInfoProvider fingerprints the host device.
	DeviceInfoProvider = ports.DeviceInfoProvider
)

// Quality levels.
const (
	QualityLow      = domain.QualityLow
	QualityStandard = domain.QualityStandard
	QualityHigh     = domain.QualityHigh
)

// Lifecycle events.
const (
	UnitStarted = ports.UnitStarted
	UnitStopped = ports.UnitStopped
)

// DefaultOptions returns the recording defaults.
func DefaultOptions() Options {
	return domain.DefaultOptions()
}

// Option configures optional behavior of a Tracker.
type Option func(*options)

type options struct {
	httpClient   ports.HTTPClient
	logger       ports.Logger
	renderer     ports.Renderer
	lifecycle    ports.LifecycleSource
	connectivity ports.ConnectivitySource
	device       ports.DeviceInfoProvider
	eventHandler EventHandler
}

func defaultOptions(client *http.Client) options {
	return options{
		httpClient: client,
		logger:     log.NewNoopLogger(),
		device:     hostDevice{},
	}
}

// WithHTTPClient sets a custom HTTP client for backend communication.
// If not provided, a client with Config.HTTPTimeout is used.
func WithHTTPClient(client HTTPClient) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithLogger sets a custom logger. If not provided, nothing is logged.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRenderer enables frame capture. Without a renderer the Screen option
// has no effect.
func WithRenderer(r Renderer) Option {
	return func(o *options) {
		o.renderer = r
	}
}

// WithLifecycleSource drives auto-recording from host visibility changes.
func WithLifecycleSource(src LifecycleSource) Option {
	return func(o *options) {
		o.lifecycle = src
	}
}

// WithConnectivitySource enables the WiFiOnly option.
func WithConnectivitySource(src ConnectivitySource) Option {
	return func(o *options) {
		o.connectivity = src
	}
}

// WithDeviceInfo replaces the default host fingerprint.
func WithDeviceInfo(p DeviceInfoProvider) Option {
	return func(o *options) {
		if p != nil {
			o.device = p
		}
	}
}

// WithEventHandler sets a handler for tracker events.
// Handlers are called synchronously and should return quickly.
func WithEventHandler(h EventHandler) Option {
	return func(o *options) {
		o.eventHandler = h
	}
}
