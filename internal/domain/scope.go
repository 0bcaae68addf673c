package domain

import "time"

// SocketState is the lifecycle state of a department chat connection.
type SocketState int

// Socket states, in lifecycle order.
const (
	SocketDisconnected SocketState = iota
	SocketConnecting
	SocketOpen
	SocketClosed
)

func (s SocketState) String() string {
	switch s {
	case SocketDisconnected:
		return "disconnected"
	case SocketConnecting:
		return "connecting"
	case SocketOpen:
		return "open"
	case SocketClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ChatScope is the department chat the user currently has selected. A
// new ChatScope replaces the old one whenever the department changes.
type ChatScope struct {
	DepartmentID ID
	SocketState  SocketState
}

// ConnectivityState is the last settled reachability of the backend.
type ConnectivityState struct {
	IsOnline         bool
	LastTransitionAt time.Time
}
