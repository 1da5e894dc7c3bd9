package circuitbreaker

type State int

const (
	// Calls pass through
	StateClosed State = iota

	// Calls fail fast with ErrOpen
	StateOpen

	// A limited number of probe calls decide whether to close again
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
