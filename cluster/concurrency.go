package cluster

import (
	"fmt"

	"github.com/gammadia/fleet/cluster/internal"
)

// Counter tracks how many instances of something run at once. A zero maximum is unlimited.
type Counter struct {
	Maximum int
	current int
}

func (c *Counter) Current() int { return c.current }

// Admits reports whether one more instance may start.
func (c *Counter) Admits() bool {
	return c == nil || c.Maximum <= 0 || c.current < c.Maximum
}

func (c *Counter) inc() {
	if c != nil {
		c.current++
	}
}

func (c *Counter) dec() {
	if c != nil && c.current > 0 {
		c.current--
	}
}

// concurrency holds the global busy-node counter and the per task name counters.
type concurrency struct {
	nodes *Counter
	tasks map[string]*Counter
}

func newConcurrency(nodeMaximum int, taskMaximums map[string]int) *concurrency {
	c := &concurrency{
		nodes: &Counter{Maximum: nodeMaximum},
		tasks: map[string]*Counter{},
	}
	for name, maximum := range taskMaximums {
		c.tasks[name] = &Counter{Maximum: maximum}
	}
	return c
}

func (c *concurrency) admits(task string) bool {
	return c.nodes.Admits() && c.tasks[task].Admits()
}

func (c *concurrency) acquire(task string) {
	c.nodes.inc()
	c.tasks[task].inc()
}

func (c *concurrency) release(task string) {
	c.nodes.dec()
	c.tasks[task].dec()
}

const (
	StrategyParallel = "parallel"
	StrategyOneByOne = "one_by_one"
)

// Strategy is the concurrency policy of the tasks sharing a name. Amount is a number of
// tasks or a percentage of them ("50%").
type Strategy struct {
	Type   string `mapstructure:"type"`
	Amount any    `mapstructure:"amount"`
}

// Maximum resolves the strategy for total tasks of the same name. Zero means unlimited.
func (s Strategy) Maximum(total int) (int, error) {
	switch s.Type {
	case StrategyOneByOne:
		return 1, nil
	case StrategyParallel, "":
		return internal.Amount(s.Amount, total)
	default:
		return 0, fmt.Errorf("unknown strategy type '%s'", s.Type)
	}
}
