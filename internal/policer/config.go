package policer

import (
	"log/slog"
	"time"
)

const (
	defaultWorkScope      = 100
	defaultExpandRate     = 10
	defaultPollInterval   = 30 * time.Second
	defaultHeadTimeout    = 5 * time.Second
	defaultMaxWorkers     = 8
	defaultUnreachableTTL = time.Minute
)

// Config tunes the policer.
type Config struct {
	WorkScope      int           // WorkScope is the initial number of objects per pass
	ExpandRate     int           // ExpandRate is the scope growth per full pass, in percent
	PollInterval   time.Duration // PollInterval is the period between timer-driven passes
	HeadTimeout    time.Duration // HeadTimeout bounds each remote header fetch
	MaxWorkers     int           // MaxWorkers caps objects checked concurrently
	UnreachableTTL time.Duration // UnreachableTTL is how long a failing node is skipped
	Logger         *slog.Logger  // Logger receives pass logs
}

func (c Config) withDefaults() Config {
	if c.WorkScope <= 0 {
		c.WorkScope = defaultWorkScope
	}
	if c.ExpandRate <= 0 {
		c.ExpandRate = defaultExpandRate
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.HeadTimeout <= 0 {
		c.HeadTimeout = defaultHeadTimeout
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = defaultMaxWorkers
	}
	if c.UnreachableTTL <= 0 {
		c.UnreachableTTL = defaultUnreachableTTL
	}
	if c.Logger == nil {
		c.Logger = slog.Default().With("component", "policer")
	}

	return c
}
