// Package station arbitrates access to scarce service stations: a bounded
// queue, one overflow holder, per-agent cooldowns and periodic summons.
package station

import (
	"time"

	"github.com/talgya/conclave/internal/agents"
)

// CooldownRegistry remembers when each agent was last summoned.
type CooldownRegistry struct {
	period time.Duration
	last   map[agents.AgentID]time.Duration
}

// NewCooldownRegistry creates a registry enforcing period between summons.
func NewCooldownRegistry(period time.Duration) *CooldownRegistry {
	return &CooldownRegistry{period: period, last: make(map[agents.AgentID]time.Duration)}
}

// Record stores now as id's last summon time, overwriting any earlier one.
func (c *CooldownRegistry) Record(id agents.AgentID, now time.Duration) {
	c.last[id] = now
}

// Ready reports whether id may be summoned at now.
func (c *CooldownRegistry) Ready(id agents.AgentID, now time.Duration) bool {
	t, ok := c.last[id]
	return !ok || now-t >= c.period
}

// Remaining returns how long id must still wait, or zero.
func (c *CooldownRegistry) Remaining(id agents.AgentID, now time.Duration) time.Duration {
	t, ok := c.last[id]
	if !ok {
		return 0
	}
	if left := c.period - (now - t); left > 0 {
		return left
	}
	return 0
}

// Forget drops id's entry.
func (c *CooldownRegistry) Forget(id agents.AgentID) {
	delete(c.last, id)
}

// Len returns the number of tracked agents.
func (c *CooldownRegistry) Len() int { return len(c.last) }
