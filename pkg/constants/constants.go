// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Time-related constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 54 * time.Second

	// WebSocketPongWait is how long a client may stay silent before it is dropped
	WebSocketPongWait = 60 * time.Second

	// WebSocketWriteWait bounds a single WebSocket write
	WebSocketWriteWait = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)

// WebSocket limits
const (
	// MaxEventConnections caps concurrent call event WebSocket connections
	MaxEventConnections = 1000

	// EventSendBuffer is the per-connection outbound queue length
	EventSendBuffer = 64
)

// Synchronizer defaults
const (
	// PollInterval is how often a polling synchronizer reads the relay
	PollInterval = 1 * time.Second

	// MaxConsecutiveFailures is the transient failure budget before a call is failed locally
	MaxConsecutiveFailures = 10

	// OfferRecoveryAttempts bounds re-fetching a lost remote offer
	OfferRecoveryAttempts = 5
)

// Push notification constants
const (
	// PushTokenExpiry is the validity period for push notification tokens
	PushTokenExpiry = 30 * 24 * time.Hour // 30 days
)

// Directory cache constants
const (
	// DirectoryCacheSize caps profiles held by the in-process directory cache
	DirectoryCacheSize = 10000
)
