package monitoring

import "errors"

// ErrSendFailed wraps every notification delivery failure so callers
// can branch on the class without inspecting channel-specific causes.
var ErrSendFailed = errors.New("notification: send failed")
