package metrics

import (
	"sync"
	"time"
)

// Source exposes the keystore state the collector samples
type Source interface {
	LoadedCredentialStores() int
	GatewayCertificateExpiry() (time.Time, bool)
}

// Collector periodically refreshes gauges that are derived from keystore state
type Collector struct {
	source   Source
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCollector creates a new metrics collector
func NewCollector(source Source, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

// Collect samples the source once
func (c *Collector) Collect() {
	CredentialStoresLoaded.Set(float64(c.source.LoadedCredentialStores()))

	expiry, ok := c.source.GatewayCertificateExpiry()
	if !ok {
		GatewayCertExpiry.Set(0)
		return
	}
	remaining := time.Until(expiry).Seconds()
	if remaining < 0 {
		remaining = 0
	}
	GatewayCertExpiry.Set(remaining)
}
