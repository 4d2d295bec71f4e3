package dxp

// Direction tells whether an event reports a message sent or received.
type Direction int

const (
	Received Direction = iota
	Sent
)

func (d Direction) String() string {
	if d == Sent {
		return "sent"
	}
	return "received"
}

// Event is the notification published for every message that crosses the
// connection. Message is one of *GameRequest, *GameAcceptance, *Move,
// *GameEnd, *BackRequest, *BackAcceptance or *Chat.
type Event struct {
	Direction Direction
	Message   Message
}

// Kind returns the opcode of the carried message.
func (e Event) Kind() Opcode {
	if e.Message == nil {
		return 0
	}
	return e.Message.Opcode()
}

func (e Event) String() string {
	return e.Kind().String() + " " + e.Direction.String()
}
