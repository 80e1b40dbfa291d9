package loom

import "time"

// Default configuration constants for queue capacities and reactor cadence.
const (
	// DefaultCQCapacity is the default completion queue capacity hint.
	DefaultCQCapacity = 1024

	// DefaultAVCapacity is the default address vector capacity hint.
	DefaultAVCapacity = 256

	// DefaultMaxInjectSize is the default inject-size hint for when no
	// provider trait table applies. Hints does not carry it.
	DefaultMaxInjectSize = 256

	// DefaultMaxCompletionsPerPoll bounds how many completions a single
	// reactor tick drains from one CQ before yielding to the next CQ.
	DefaultMaxCompletionsPerPoll = 16

	// DefaultPollInterval is the reactor's timer-driven tick cadence when
	// UseFDPolling is false or unsupported.
	DefaultPollInterval = time.Millisecond

	// DefaultMRCacheHighWater is the default resident-entry ceiling before
	// the MR cache attempts LRU eviction.
	DefaultMRCacheHighWater = 64
)
