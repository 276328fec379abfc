package constants

import "time"

// Ring sizes, in descriptors. All must be powers of two in [4, 65536].
const (
	DefaultAdminQDepth  = 16
	DefaultNotifyQDepth = 64
	DefaultTxQDepth     = 64
	DefaultRxQDepth     = 64

	MinRingDepth = 4
	MaxRingDepth = 65536
)

// Device command and admin queue budgets
const (
	// DevCmdTimeoutSeconds bounds each device command wait, in polling iterations of DevCmdPollInterval.
	DevCmdTimeoutSeconds = 5

	// AdminTimeoutIterations bounds each admin queue completion wait.
	AdminTimeoutIterations = 5

	// DevCmdPollInterval is the sleep between done-bit and admin completion polls.
	DevCmdPollInterval = time.Second

	// DevCmdRetryCount bounds the posts of a command answered with EAGAIN.
	DevCmdRetryCount = 5

	// DevCmdRetryDelay is the pause before re-posting after EAGAIN.
	DevCmdRetryDelay = time.Second
)

// Data path defaults
const (
	DefaultMTU = 1500
	MinMTU     = 68
	MaxMTU     = 9194

	// EthHeaderLen and VLANTagLen size the receive buffers: 14 + MTU + 4.
	EthHeaderLen = 14
	VLANTagLen   = 4

	DefaultBufferCount = 256
	DefaultBufferSize  = 2048

	// DefaultPollRate is how many times per second Run calls Poll.
	DefaultPollRate = 1000
)

// LIF and doorbell defaults
const (
	DefaultLIFIndex = 0
	DefaultPID      = 0
	DefaultCos      = 0
	DefaultIntr     = 0
)
