package detect

import (
	"github.com/sirupsen/logrus"

	"github.com/webolmo/recorder/internal/event"
	"github.com/webolmo/recorder/internal/gate"
)

// Guard applies the rate gate to normalized events. The Detector routes
// its own signals through one; ingress paths that receive pre-normalized
// events (the recordInteraction bridge) use one directly so bursts are
// suppressed no matter which path an event arrives on.
type Guard struct {
	limiter *gate.RateLimiter
	warner  Warner
	logger  logrus.FieldLogger
}

func NewGuard(warner Warner, logger logrus.FieldLogger) *Guard {
	return &Guard{
		limiter: gate.NewRateLimiter(gate.DefaultEventGap),
		warner:  warner,
		logger:  logger.WithField("component", "detect"),
	}
}

// Admit reports whether ev may proceed. Only screenshot-worthy events
// (deliberate user actions) are candidates for blocking; pass-through
// records like unload must not be lost to the gate. A blocked event
// surfaces the speed warning, and the rolling window shifts either way so
// a user who keeps acting quickly stays blocked.
func (g *Guard) Admit(ev event.Event, takeScreenshot bool) bool {
	if takeScreenshot && g.limiter.ShouldBlock(ev.Timestamp) {
		g.warner.SpeedWarning(BlockWarning)
		g.logger.WithFields(logrus.Fields{
			"type":      ev.Type.String(),
			"timestamp": ev.Timestamp,
		}).Warn("event blocked: too close to second-most-recent event")
		g.limiter.Observe(ev.Timestamp)
		return false
	}
	g.limiter.Observe(ev.Timestamp)
	return true
}

// Observe shifts the rolling window without an admission check. Used for
// events that bypass the gate but must still count against it.
func (g *Guard) Observe(ts int64) {
	g.limiter.Observe(ts)
}
