package logic

import "bytes"

// Stream markers. Payload markers are the fully-qualified Home Connect enum values.
const (
	StatusEventMarker    = "event:STATUS"
	NotifyEventMarker    = "event:NOTIFY"
	PowerStateOnMarker   = "BSH.Common.EnumType.PowerState.On"
	PowerStateStbyMarker = "BSH.Common.EnumType.PowerState.Standby"
	OperationReadyMarker = "BSH.Common.EnumType.OperationState.Ready"
)

// Power state setting used by commands.
const (
	PowerStateKey  = "BSH.Common.Setting.PowerState"
	PowerStateType = "BSH.Common.EnumType.PowerState"
)

var (
	statusEvent = []byte(StatusEventMarker)
	notifyEvent = []byte(NotifyEventMarker)
	powerOn     = []byte(PowerStateOnMarker)
	powerStby   = []byte(PowerStateStbyMarker)
	opReady     = []byte(OperationReadyMarker)
)

// PassesFilter reports whether a raw stream chunk belongs to a status event.
// The check is chunk-local: a marker split across two chunks is not seen.
func PassesFilter(chunk []byte) bool {
	return bytes.Contains(chunk, statusEvent)
}

// Interpret maps a filtered chunk to a transition intent.
// Checks run in a fixed order and the first match wins; a chunk matching
// none of them yields ok=false.
func Interpret(chunk []byte) (intent Intent, ok bool) {
	notify := bytes.Contains(chunk, notifyEvent)
	switch {
	case notify && bytes.Contains(chunk, powerOn):
		return Intent{Target: StatusWakingUp, Source: SourceStream}, true
	case notify && bytes.Contains(chunk, powerStby):
		return Intent{Target: StatusShuttingDown, Source: SourceStream}, true
	case bytes.Contains(chunk, opReady):
		return Intent{Target: StatusRunning, Source: SourceStream}, true
	}
	return Intent{}, false
}

// StatusForDisplayValue maps the operation state display value reported by
// the status endpoint. Unknown values return ok=false.
func StatusForDisplayValue(v string) (Status, bool) {
	switch v {
	case "Inactive":
		return StatusInactive, true
	case "Ready":
		return StatusRunning, true
	}
	return 0, false
}

// PowerStateValue returns the enum value commanding the appliance on or to standby.
func PowerStateValue(on bool) string {
	if on {
		return PowerStateOnMarker
	}
	return PowerStateStbyMarker
}
