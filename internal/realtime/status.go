package realtime

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

type trigger string

const (
	// dial starts an attempt: auth passed, token fetch and handshake follow.
	triggerDial trigger = "dial"
	// abort gives up an attempt before a transport exists (no token).
	triggerAbort trigger = "abort"
	triggerOpen  trigger = "open"
	// closeNormal covers a clean close and local teardown.
	triggerCloseNormal trigger = "close"
	triggerFail        trigger = "fail"
	// settle leaves the error state once the reconnect decision is made.
	triggerSettle trigger = "settle"
)

var transitions = map[Status]map[trigger]Status{
	StatusDisconnected: {
		triggerDial:        StatusConnecting,
		triggerAbort:       StatusDisconnected,
		triggerCloseNormal: StatusDisconnected,
	},
	StatusConnecting: {
		triggerAbort:       StatusDisconnected,
		triggerOpen:        StatusConnected,
		triggerCloseNormal: StatusDisconnected,
		triggerFail:        StatusError,
	},
	StatusConnected: {
		triggerCloseNormal: StatusDisconnected,
		triggerFail:        StatusError,
	},
	StatusError: {
		triggerSettle:      StatusDisconnected,
		triggerCloseNormal: StatusDisconnected,
	},
}

// next returns the state reached from current on t, and false when the
// transition is not in the table.
func next(current Status, t trigger) (Status, bool) {
	to, ok := transitions[current][t]
	return to, ok
}
