package trigger

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/mensahk/fieldcite/internal/logging"
)

// ManualConnectivity is a Connectivity driven by external reports, such
// as the UI shell forwarding the platform's online/offline events.
type ManualConnectivity struct {
	mu      sync.RWMutex
	online  bool
	changes chan bool
}

// NewManualConnectivity creates a ManualConnectivity with an initial
// state.
func NewManualConnectivity(online bool) *ManualConnectivity {
	return &ManualConnectivity{
		online:  online,
		changes: make(chan bool, 4),
	}
}

// Online reports the last reported state.
func (c *ManualConnectivity) Online() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

// Changes delivers state transitions.
func (c *ManualConnectivity) Changes() <-chan bool {
	return c.changes
}

// Set records a new state. Only transitions are announced; repeated
// reports of the same state are dropped.
func (c *ManualConnectivity) Set(online bool) {
	c.mu.Lock()
	changed := c.online != online
	c.online = online
	c.mu.Unlock()

	if !changed {
		return
	}
	select {
	case c.changes <- online:
	default:
	}
}

// ProbeConnectivity derives connectivity by polling the API health
// endpoint. A failed probe marks the device offline until a probe
// succeeds again.
type ProbeConnectivity struct {
	*ManualConnectivity

	url      string
	interval time.Duration
	client   *http.Client
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewProbeConnectivity creates a ProbeConnectivity polling url every
// interval. The device starts offline until the first probe succeeds.
func NewProbeConnectivity(url string, interval time.Duration) *ProbeConnectivity {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &ProbeConnectivity{
		ManualConnectivity: NewManualConnectivity(false),
		url:                url,
		interval:           interval,
		client:             &http.Client{Timeout: 5 * time.Second},
		stopCh:             make(chan struct{}),
	}
}

// Start launches the probe loop.
func (c *ProbeConnectivity) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		c.probe(ctx)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.probe(ctx)
			}
		}
	}()
}

// Stop halts the probe loop.
func (c *ProbeConnectivity) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *ProbeConnectivity) probe(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url, nil)
	if err != nil {
		logging.Error("Connectivity probe request invalid", err,
			map[string]interface{}{"url": c.url})
		return
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.Set(false)
		return
	}
	resp.Body.Close()
	c.Set(resp.StatusCode < 500)
}
