package ionic

import "github.com/ehrlich-b/go-ionic/internal/constants"

// Re-export constants for public API
const (
	DefaultAdminQDepth     = constants.DefaultAdminQDepth
	DefaultNotifyQDepth    = constants.DefaultNotifyQDepth
	DefaultTxQDepth        = constants.DefaultTxQDepth
	DefaultRxQDepth        = constants.DefaultRxQDepth
	DefaultMTU             = constants.DefaultMTU
	DefaultBufferCount     = constants.DefaultBufferCount
	DefaultBufferSize      = constants.DefaultBufferSize
	DefaultPollRate        = constants.DefaultPollRate
	DevCmdTimeoutSeconds   = constants.DevCmdTimeoutSeconds
	AdminTimeoutIterations = constants.AdminTimeoutIterations
)
