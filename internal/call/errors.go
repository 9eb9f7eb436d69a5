package call

import "errors"

// ErrCallTerminated signals that the remote side hung up or the session was
// told to stop. It travels through the per-call task group to shut the
// remaining tasks down and is swallowed before Run returns.
var ErrCallTerminated = errors.New("call: terminated")

// ErrAlreadyActive is returned when registering a session whose call id is
// already tracked by the manager.
var ErrAlreadyActive = errors.New("call: already active")

// ErrNotFound is returned by manager lookups for unknown call ids.
var ErrNotFound = errors.New("call: not found")
