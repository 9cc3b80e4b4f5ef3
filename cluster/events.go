package cluster

import (
	"github.com/gammadia/fleet/graph"
)

type Event interface{}

// Nodes

type EventNodeStatusUpdated struct {
	Node   string
	Status NodeStatus
}

// Tasks

type EventTaskRunning struct {
	Node string
	Task string
}

type EventTaskFinished struct {
	Node   string
	Task   string
	Status graph.Status
}

// Cluster

type EventClusterFinished struct {
	Success bool
	Status  string
}

const subscriberBuffer = 1024

// Subscribe returns a channel receiving cluster events. Slow subscribers miss events rather
// than blocking the run loop.
func (c *Cluster) Subscribe() (<-chan Event, func()) {
	c.listenersMutex.Lock()
	defer c.listenersMutex.Unlock()

	ch := make(chan Event, subscriberBuffer)
	c.listeners = append(c.listeners, ch)

	return ch, func() {
		c.listenersMutex.Lock()
		defer c.listenersMutex.Unlock()

		for i, listener := range c.listeners {
			if listener == ch {
				c.listeners = append(c.listeners[:i], c.listeners[i+1:]...)
				close(ch)
				return
			}
		}
	}
}

func (c *Cluster) broadcast(event Event) {
	c.listenersMutex.Lock()
	defer c.listenersMutex.Unlock()

	for _, listener := range c.listeners {
		select {
		case listener <- event:
		default:
			c.log.Warn("Dropping event for slow subscriber", "event", event)
		}
	}
}
