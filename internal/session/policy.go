package session

import "encoding/json"

type State int

const (
	Disconnected State = iota
	Connected
	Reconnecting
)

var stateNames = map[State]string{
	Disconnected: "disconnected",
	Connected:    "connected",
	Reconnecting: "reconnecting",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for k, v := range stateNames {
		if v == name {
			*s = k
			return nil
		}
	}
	*s = Disconnected
	return nil
}

// Policy bounds automatic recovery after a lost transport. The attempt
// counter survives failed reconnects and is cleared only by a successful
// connect or an explicit Reset. Policy is not safe for concurrent use; the
// Manager guards it.
type Policy struct {
	max      int
	state    State
	attempts int
}

func NewPolicy(maxAttempts int) *Policy {
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	return &Policy{max: maxAttempts}
}

// Trigger records a transport-lost signal. It returns the attempt number to
// make, or ok=false once the attempts are exhausted.
func (p *Policy) Trigger() (attempt int, ok bool) {
	if p.attempts >= p.max {
		p.state = Disconnected
		return p.attempts, false
	}
	p.attempts++
	p.state = Reconnecting
	return p.attempts, true
}

// Connected marks a live session and clears the attempt counter.
func (p *Policy) Connected() {
	p.state = Connected
	p.attempts = 0
}

// Failed marks a reconnect that did not succeed. The attempt is kept.
func (p *Policy) Failed() {
	p.state = Disconnected
}

// Reset returns the policy to its initial state.
func (p *Policy) Reset() {
	p.state = Disconnected
	p.attempts = 0
}

func (p *Policy) State() State  { return p.state }
func (p *Policy) Attempts() int { return p.attempts }
func (p *Policy) Max() int      { return p.max }
