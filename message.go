package dxp

// Opcode is the single leading byte identifying a message's type.
type Opcode byte

// Opcodes of the DXP protocol.
const (
	OpGameRequest    Opcode = 'R'
	OpGameAcceptance Opcode = 'A'
	OpMove           Opcode = 'M'
	OpGameEnd        Opcode = 'E'
	OpChat           Opcode = 'C'
	OpBackRequest    Opcode = 'B'
	OpBackAcceptance Opcode = 'K'

	// IdleByte may appear between messages and is discarded wherever an
	// opcode is expected.
	IdleByte byte = 0
)

// String returns the name of the message kind the opcode introduces.
func (o Opcode) String() string {
	switch o {
	case OpGameRequest:
		return "game_request"
	case OpGameAcceptance:
		return "game_acceptance"
	case OpMove:
		return "move"
	case OpGameEnd:
		return "game_end"
	case OpChat:
		return "chat"
	case OpBackRequest:
		return "back_request"
	case OpBackAcceptance:
		return "back_acceptance"
	default:
		return "unknown"
	}
}

// Color is a side on the board as it appears on the wire.
type Color byte

const (
	NoColor Color = 0
	White   Color = 'W'
	Black   Color = 'Z'
)

func (c Color) valid() bool {
	return c == White || c == Black
}

func (c Color) String() string {
	switch c {
	case White:
		return "W"
	case Black:
		return "Z"
	default:
		return ""
	}
}

// PositionKind selects the starting position of a game.
type PositionKind byte

const (
	NormalPosition PositionKind = 'A'
	CustomPosition PositionKind = 'B'
)

// Field widths and limits.
const (
	ProtocolVersion = "01"
	DefaultPort     = 27531

	NameLength     = 32
	PositionLength = 50
	MaxChatLength  = 126
	MaxCaptured    = 20
	MinSquare      = 1
	MaxSquare      = 50

	DefaultThinkingTime = 999
	MaxThinkingTime     = 999
	MaxMoveLimit        = 999
	MaxMoveTime         = 9999
)

// Message is implemented by every DXP message value. The set is closed.
type Message interface {
	Opcode() Opcode
	// Validate reports the first field outside its domain.
	Validate() error

	appendFields(dst []byte) []byte
}

// GameRequest opens a game. InitiatorName holds the 32-byte wire form.
type GameRequest struct {
	Version          string
	InitiatorName    string
	FollowerColor    Color
	ThinkingTime     int
	MoveLimit        int
	StartingPosition PositionKind
	// ColorToMoveFirst and Position are only set for CustomPosition.
	ColorToMoveFirst Color
	Position         string
}

// GameAcceptance answers a GameRequest.
type GameAcceptance struct {
	FollowerName   string
	AcceptanceCode int
}

// Move carries one played move. The captured count is len(Captured).
type Move struct {
	Time     int
	From     int
	To       int
	Captured []int
}

// GameEnd terminates the current game.
type GameEnd struct {
	Reason   int
	StopCode int
}

// BackRequest asks the peer to take moves back.
type BackRequest struct {
	MoveNumber  int
	ColorOnMove Color
}

// BackAcceptance answers a BackRequest.
type BackAcceptance struct {
	AcceptanceCode int
}

// Chat is free text of at most MaxChatLength bytes.
type Chat struct {
	Text string
}

func (*GameRequest) Opcode() Opcode    { return OpGameRequest }
func (*GameAcceptance) Opcode() Opcode { return OpGameAcceptance }
func (*Move) Opcode() Opcode           { return OpMove }
func (*GameEnd) Opcode() Opcode        { return OpGameEnd }
func (*BackRequest) Opcode() Opcode    { return OpBackRequest }
func (*BackAcceptance) Opcode() Opcode { return OpBackAcceptance }
func (*Chat) Opcode() Opcode           { return OpChat }
