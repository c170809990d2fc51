package conversation

// Round is one user request paired with its assistant reply. Either side
// may be missing: a round without a reply was abandoned or is still in
// flight, a round without a request holds a system-initiated message.
type Round struct {
	User      *Message          `json:"user,omitempty"`
	Assistant *Message          `json:"assistant,omitempty"`
	Config    *GenerationConfig `json:"config,omitempty"`
}

// Open reports whether the round is still waiting for a reply.
func (r Round) Open() bool {
	return r.User != nil && r.Assistant == nil
}

// Reconcile groups an ordered event sequence into rounds. It never
// reorders events and keeps no state between calls.
//
// A user event closes any open round and starts a new one, so a request
// that got no reply before the next one stays a round of its own. An
// assistant event closes the open round, or becomes a round by itself when
// none is open. A round still open at the end is returned as-is.
func Reconcile(events []Message) []Round {
	var rounds []Round
	var open *Round

	for i := range events {
		m := events[i]
		switch m.Role {
		case RoleUser:
			if open != nil {
				rounds = append(rounds, *open)
			}
			open = &Round{User: &m, Config: m.Config}
		case RoleAssistant:
			if open == nil {
				rounds = append(rounds, Round{Assistant: &m, Config: m.Config})
				continue
			}
			open.Assistant = &m
			rounds = append(rounds, *open)
			open = nil
		}
	}
	if open != nil {
		rounds = append(rounds, *open)
	}
	return rounds
}

// Flatten returns the events of rounds in order, the inverse of Reconcile.
func Flatten(rounds []Round) []Message {
	var out []Message
	for _, r := range rounds {
		if r.User != nil {
			out = append(out, *r.User)
		}
		if r.Assistant != nil {
			out = append(out, *r.Assistant)
		}
	}
	return out
}
