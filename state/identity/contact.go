package identity

import (
	"fmt"

	"dappvault/engine/library"
)

var transitions = map[ConnectionState][]ConnectionState{
	StateCreated:             {StateSendingFirstContact, StateFailed},
	StateSendingFirstContact: {StateSent, StateFailed},
	StateSent:                {StateConnected, StateFailed},
	StateFailed:              {StateCreated},
}

// Advance moves the contact to next. Connected is terminal; failed can only
// restart from created. Advancing to the current state is a no-op.
func (c *Contact) Advance(next ConnectionState) error {
	if c.ConnectionState == next {
		return nil
	}
	for _, allowed := range transitions[c.ConnectionState] {
		if allowed == next {
			c.ConnectionState = next
			return nil
		}
	}
	return fmt.Errorf("%w: contact %s from %s to %s", library.ErrInvalidState, c.ID, c.ConnectionState, next)
}

func (c *Contact) Connected() bool {
	return c.ConnectionState == StateConnected
}
