// Package lifecycle implements the per-request state machine shared by the HTTP,
// WebSocket and socket-event transports.
//
// A Context moves created → bound → handling → (success | error) → ended → destroyed.
// A transport disconnect destroys the Context from any state, and whatever the handler
// produces afterwards is discarded.
package lifecycle

import "fmt"

// Kind identifies the transport a Context is bound to
type Kind string

const (
	KindHTTP        Kind = "http"
	KindWebSocket   Kind = "ws"
	KindSocketEvent Kind = "socket-event"
)

// ParseKind parses a transport kind, accepting "websocket" as an alias of "ws"
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", string(KindHTTP):
		return KindHTTP, nil
	case string(KindWebSocket), "websocket":
		return KindWebSocket, nil
	case string(KindSocketEvent), "socket", "event":
		return KindSocketEvent, nil
	}
	return "", fmt.Errorf("invalid transport kind %q", s)
}

// State is a lifecycle state
type State int

const (
	StateCreated State = iota
	StateBound
	StateHandling
	StateSuccess
	StateError
	StateEnded
	StateDestroyed
)

var stateNames = [...]string{
	StateCreated:   "created",
	StateBound:     "bound",
	StateHandling:  "handling",
	StateSuccess:   "success",
	StateError:     "error",
	StateEnded:     "ended",
	StateDestroyed: "destroyed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further handling can happen in s
func (s State) Terminal() bool {
	return s >= StateEnded
}
