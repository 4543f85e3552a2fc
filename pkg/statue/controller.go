// Package statue ties the node together: it owns the runtime configuration,
// runs the cooperative main loop, and hands contact snapshots to whoever
// asks.
package statue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/itohio/firstcontact/pkg/audio"
	"github.com/itohio/firstcontact/pkg/config"
	"github.com/itohio/firstcontact/pkg/contact"
	"github.com/itohio/firstcontact/pkg/detect"
	"github.com/itohio/firstcontact/pkg/directory"
	"github.com/itohio/firstcontact/pkg/fleet"
	"github.com/itohio/firstcontact/pkg/haptics"
)

// Controller is the node's main loop. One goroutine services the audio block
// stream, the periodic analysis tick, and inbound fleet messages; every tick
// samples detections and advances the contact state exactly once, so there
// is always one state per period, never a skipped or coalesced tick.
type Controller struct {
	log  logrus.FieldLogger
	rt   config.Runtime
	dir  *directory.Directory
	id   directory.Identity
	aud  audio.Engine
	eng  *detect.Engine
	sync *fleet.Sync
	tr   fleet.Transport
	hap  *haptics.Driver

	mu          sync.RWMutex
	state       contact.State
	lastPublish time.Time
}

// New builds a controller for the resolved identity. The haptics driver is
// optional; pass nil on statues without motors.
func New(log logrus.FieldLogger, cfg *config.Config, dir *directory.Directory, id directory.Identity, aud audio.Engine, tr fleet.Transport, hap *haptics.Driver) *Controller {
	c := &Controller{
		log: log.WithField("statue", id.Name),
		rt:  cfg.Runtime,
		dir: dir,
		id:  id,
		aud: aud,
		tr:  tr,
		hap: hap,
	}
	c.eng = detect.NewEngine(aud, dir, id)
	c.sync = fleet.NewSync(log, tr, dir, &c.rt, c.eng, id)
	return c
}

// Identity returns this node's resolved identity.
func (c *Controller) Identity() directory.Identity { return c.id }

// ContactState returns the latest contact snapshot, non-blocking.
func (c *Controller) ContactState() contact.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Runtime returns a copy of the current runtime configuration.
func (c *Controller) Runtime() config.Runtime {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rt
}

// SyncState returns the fleet sync position, for status reporting.
func (c *Controller) SyncState() fleet.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sync.State()
}

// Run starts the sensing subsystem and services the loop until the context
// is cancelled. An audio engine failure aborts startup; a dead transport
// does not, the node just runs on defaults until the broker shows up.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.eng.Start(c.rt.ToneEnabled, c.rt.SignalVolume, c.rt.MusicVolume); err != nil {
		return fmt.Errorf("sensing startup: %w", err)
	}
	defer c.eng.Stop()

	if err := c.tr.Connect(); err != nil {
		c.log.WithError(err).Warn("transport unavailable, continuing on defaults")
	} else {
		if err := c.sync.SubscribeTopics(); err != nil {
			c.log.WithError(err).Warn("subscribe failed")
		}
		c.sync.RequestConfig()
	}
	defer c.tr.Close()

	c.logIdentity()

	period := c.rt.MainPeriod
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case b, ok := <-c.aud.Blocks():
			if !ok {
				return fmt.Errorf("audio block stream closed")
			}
			c.eng.ProcessBlock(b)

		case msg := <-c.tr.Messages():
			c.mu.Lock()
			c.sync.HandleMessage(msg)
			c.mu.Unlock()

		case <-ticker.C:
			c.tick()

			// The analysis period is runtime-tunable; pick up a pushed
			// change on the boundary after it lands.
			c.mu.RLock()
			p := c.rt.MainPeriod
			c.mu.RUnlock()
			if p != period {
				period = p
				ticker.Reset(period)
				c.log.WithField("period", period).Info("main period updated")
			}
		}
	}
}

// tick samples detections and advances the contact state, once.
func (c *Controller) tick() {
	detections := c.eng.SampleDetections()

	c.mu.Lock()
	prev := c.state
	next := contact.Advance(prev, detections)
	c.state = next
	rt := c.rt
	c.mu.Unlock()

	if rt.DebugMode {
		c.log.WithFields(logrus.Fields{
			"mask":       fmt.Sprintf("%04b", next.IsLinked),
			"magnitudes": c.eng.Magnitudes(),
		}).Debug("analysis tick")
	}

	if !next.Unchanged() {
		c.logState(next)
	}

	c.publish(next, rt)

	if c.hap != nil && c.hap.IsConnected() {
		if err := c.hap.Update(next); err != nil {
			c.log.WithError(err).Warn("haptics update failed")
		}
	}
}

// publish pushes the snapshot on every change, with an idle heartbeat so the
// controller can tell a quiet statue from a dead one.
func (c *Controller) publish(st contact.State, rt config.Runtime) {
	now := time.Now()

	c.mu.RLock()
	last := c.lastPublish
	c.mu.RUnlock()

	if st.Unchanged() && now.Sub(last) < rt.IdleTimeout {
		return
	}

	if c.sync.PublishState(st) {
		c.mu.Lock()
		c.lastPublish = now
		c.mu.Unlock()
	}
}

func (c *Controller) logState(st contact.State) {
	linked := []string{}
	for p, idx := range c.dir.PeerIndices(c.id.Index) {
		if st.LinkedTo(p) {
			if e, ok := c.dir.Entry(idx); ok {
				linked = append(linked, e.Name)
			}
		}
	}
	c.log.WithFields(logrus.Fields{
		"mask":   fmt.Sprintf("%04b", st.IsLinked),
		"linked": linked,
	}).Info("contact state changed")
}

// logIdentity prints the resolved directory at startup, marking this node's
// own row.
func (c *Controller) logIdentity() {
	for i, e := range c.dir.Entries() {
		entry := c.log.WithFields(logrus.Fields{
			"index":     i,
			"emit":      e.EmitFrequency,
			"threshold": e.Threshold,
		})
		if i == c.id.Index {
			entry.Infof("%s <- this statue", e.Name)
		} else {
			entry.Info(e.Name)
		}
	}
}
