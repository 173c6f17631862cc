package realtime

import "time"

// Security/performance limits for the websocket gateway.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max message body length (runes).
	maxMessageChars = 4000

	defaultSendQueueSize = 256
	minSendQueueSize     = 32
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultReadIdle     = 2 * time.Minute
	closeGrace          = 1 * time.Second

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	maxPingFailures   = 3

	// Per-connection event rate (token bucket, events/second).
	defaultRatePerSec = 12
	defaultRateBurst  = 24
)
