package push

import (
	"strings"

	"PPLink/tools/errs"
)

// Event kinds pushed down a stream. Clients ignore kinds they don't know.
const (
	KindMessageCreated = "message-created"
	KindStatusChanged  = "status-changed"
	KindSyncInitial    = "sync-initial"
	KindMessageSync    = "message-sync"
	KindSyncError      = "sync-error"
)

// Event is one unit pushed down a connection. Sequence is assigned by the
// connection at send time; callers leave it zero.
type Event struct {
	Kind     string `json:"kind"`
	Data     any    `json:"data"`
	Sequence uint64 `json:"seq"`
}

func NewEvent(kind string, data any) Event {
	return Event{Kind: kind, Data: data}
}

type DeviceClass string

const (
	DevicePrimary   DeviceClass = "primary"
	DeviceSecondary DeviceClass = "secondary"
)

// DefaultDeviceClass applies when the client sends no hint.
const DefaultDeviceClass = DevicePrimary

// ParseDeviceClass validates a client supplied device class. Empty input
// yields DefaultDeviceClass; anything unknown is an argument error.
func ParseDeviceClass(s string) (DeviceClass, error) {
	switch DeviceClass(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultDeviceClass, nil
	case DevicePrimary:
		return DevicePrimary, nil
	case DeviceSecondary:
		return DeviceSecondary, nil
	}
	return "", errs.ErrArgs.WrapMsg("unknown device class", "device", s)
}

// CatchUp reports whether a freshly opened connection of this class gets a
// sync backlog.
func (d DeviceClass) CatchUp() bool {
	return d == DeviceSecondary
}

// DeviceHints is what the client told us at connect time.
type DeviceHints struct {
	Class       DeviceClass
	UserAgent   string
	RemoteAddr  string
	Transport   string
	LastEventID string // accepted for forward compatibility, not replayed
}
