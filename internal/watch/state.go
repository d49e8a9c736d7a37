package watch

import "fmt"

// State is a position in the job lattice Waiting → Progressing → {Done, Failed}.
type State int

// Job states.
const (
	Waiting State = iota
	Progressing
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Progressing:
		return "progressing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}

// MarshalText renders the state for JSON APIs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{Waiting, Progressing, Done, Failed} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}
