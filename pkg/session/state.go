package session

// State is the controller's position in a turn.
type State int

const (
	StateIdle State = iota
	StateRecording
	StateUploading
	StateAwaitingResponse
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateUploading:
		return "uploading"
	case StateAwaitingResponse:
		return "awaiting-response"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// Busy reports whether a new turn must not start in this state.
func (s State) Busy() bool {
	switch s {
	case StateRecording, StateUploading, StateAwaitingResponse:
		return true
	}
	return false
}

// ParseState is the inverse of String. Unknown names map to StateIdle.
func ParseState(s string) State {
	switch s {
	case "recording":
		return StateRecording
	case "uploading":
		return StateUploading
	case "awaiting-response":
		return StateAwaitingResponse
	case "playing":
		return StatePlaying
	default:
		return StateIdle
	}
}
