package config

import "time"

// The rate plan is part of the build, not the deployment. Operators scale by
// adding tenants, not by turning these knobs, so none of them are readable
// from the environment; changing a limit means shipping a new binary.
const (
	// GlobalSendRate is the sustained upstream send rate across all
	// tenants, in messages per second.
	GlobalSendRate = 30.0

	// ChatSendRate is the sustained per-recipient send rate.
	ChatSendRate = 5.0

	// SendBurst is the shared burst allowance on top of either sustained
	// rate. Bucket capacity is rate + burst.
	SendBurst = 10.0

	// RateLimitBackoffInitial and RateLimitBackoffCap bound the
	// exponential back-off applied to a recipient after an upstream 429.
	// An upstream retry_after longer than the computed delay wins.
	RateLimitBackoffInitial = 1500 * time.Millisecond
	RateLimitBackoffCap     = 15 * time.Second

	// FallbackTrigger consecutive 429s degrade a recipient to
	// FallbackRate. The allowance then recovers by one message per second
	// for every FallbackRecoveryWindow elapsed without another 429, until
	// it reaches ChatSendRate again.
	FallbackTrigger        = 3
	FallbackRate           = 1.0
	FallbackRecoveryWindow = 60 * time.Second

	// UpstreamHeartbeatInterval is the base cadence of per-tenant getMe
	// probes. Each tick is jittered by up to UpstreamHeartbeatJitter so
	// tenants never probe in lockstep.
	UpstreamHeartbeatInterval = 30 * time.Second
	UpstreamHeartbeatJitter   = 5 * time.Second

	// DatabaseHeartbeatInterval is the cadence of liveness probes against
	// the primary.
	DatabaseHeartbeatInterval = 60 * time.Second
)
