package app

import (
	"sync"

	"github.com/bft-labs/replayship/internal/ports"
)

// ConnectivityGate decides whether recording may continue on the current network.
// Wi-Fi is always allowed; cellular only when WiFiOnly is off.
type ConnectivityGate struct {
	mu       sync.RWMutex
	wifiOnly bool
	last     ports.Connectivity
	seen     bool
	logger   ports.Logger
}

// NewConnectivityGate creates a gate with the given policy.
func NewConnectivityGate(wifiOnly bool, logger ports.Logger) *ConnectivityGate {
	return &ConnectivityGate{
		wifiOnly: wifiOnly,
		logger:   logger,
	}
}

// SetWiFiOnly updates the policy.
func (g *ConnectivityGate) SetWiFiOnly(wifiOnly bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.wifiOnly = wifiOnly
}

// Observe records a connectivity change and reports whether it is allowed.
func (g *ConnectivityGate) Observe(c ports.Connectivity) bool {
	g.mu.Lock()
	g.last = c
	g.seen = true
	g.mu.Unlock()

	ok := g.Allows(c)
	if !ok {
		g.logger.Debug("connectivity gate closed",
			ports.Bool("wifi", c.WiFi),
			ports.Bool("cellular", c.Cellular),
		)
	}
	return ok
}

// Allows reports whether c satisfies the policy.
func (g *ConnectivityGate) Allows(c ports.Connectivity) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return c.WiFi || (c.Cellular && !g.wifiOnly)
}

// ResourcesOK reports whether the last observed network satisfies the policy.
// Returns true before any observation.
func (g *ConnectivityGate) ResourcesOK() bool {
	g.mu.RLock()
	seen, last := g.seen, g.last
	g.mu.RUnlock()
	if !seen {
		return true
	}
	return g.Allows(last)
}
