package dxp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Codec errors.
var (
	// ErrMalformedField matches every *FieldError.
	ErrMalformedField = errors.New("malformed field")
	// ErrUnexpectedOpcode is returned for an opcode the current state does not accept.
	ErrUnexpectedOpcode = errors.New("unexpected opcode")
)

// FieldError reports the first field of a message that failed validation.
type FieldError struct {
	Message string
	Field   string
	Value   string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: invalid %s %q", e.Message, e.Field, e.Value)
}

// Is makes errors.Is(err, ErrMalformedField) hold for field errors.
func (e *FieldError) Is(target error) bool {
	return target == ErrMalformedField
}

func fieldError(msg, field string, value interface{}) error {
	return &FieldError{Message: msg, Field: field, Value: fmt.Sprint(value)}
}

// FieldReader is the byte source the decoders pull fixed-width fields from.
type FieldReader interface {
	// ReadExact returns exactly n bytes, waiting for them if necessary.
	ReadExact(ctx context.Context, n int) ([]byte, error)
	// ReadAvailable returns up to max bytes that can be had without waiting.
	ReadAvailable(max int) []byte
	// Unread pushes p back in front of the remaining input.
	Unread(p []byte)
}

type ioFieldReader struct {
	br   *bufio.Reader
	head []byte
}

// NewFieldReader adapts an io.Reader so the decoders can run over any byte
// stream, e.g. a bytes.Reader in tests or a raw net.Conn.
func NewFieldReader(r io.Reader) FieldReader {
	return &ioFieldReader{br: bufio.NewReader(r)}
}

func (f *ioFieldReader) ReadExact(ctx context.Context, n int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	c := copy(out, f.head)
	f.head = f.head[c:]
	if _, err := io.ReadFull(f.br, out[c:]); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadAvailable blocks for the first byte when nothing is buffered yet.
func (f *ioFieldReader) ReadAvailable(max int) []byte {
	if max <= 0 {
		return nil
	}
	if len(f.head) > 0 {
		n := min(max, len(f.head))
		out := append([]byte(nil), f.head[:n]...)
		f.head = f.head[n:]
		return out
	}
	if f.br.Buffered() == 0 {
		_, _ = f.br.Peek(1)
	}
	n := min(max, f.br.Buffered())
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	_, _ = io.ReadFull(f.br, out)
	return out
}

func (f *ioFieldReader) Unread(p []byte) {
	f.head = append(append([]byte(nil), p...), f.head...)
}

// Encode validates m and renders it to its wire layout, opcode first.
func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	dst := []byte{byte(m.Opcode())}
	return m.appendFields(dst), nil
}

// Decode reads the body of a message whose opcode has already been consumed.
func Decode(ctx context.Context, r FieldReader, op Opcode) (Message, error) {
	switch op {
	case OpGameRequest:
		return DecodeGameRequest(ctx, r)
	case OpGameAcceptance:
		return DecodeGameAcceptance(ctx, r)
	case OpMove:
		return DecodeMove(ctx, r)
	case OpGameEnd:
		return DecodeGameEnd(ctx, r)
	case OpBackRequest:
		return DecodeBackRequest(ctx, r)
	case OpBackAcceptance:
		return DecodeBackAcceptance(ctx, r)
	case OpChat:
		return DecodeChat(r), nil
	default:
		return nil, errors.Wrapf(ErrUnexpectedOpcode, "opcode 0x%02x", byte(op))
	}
}

// DecodeGameRequest decodes the fields following an 'R' opcode.
func DecodeGameRequest(ctx context.Context, r FieldReader) (*GameRequest, error) {
	const msg = "game request"

	version, err := readField(ctx, r, msg, "version", 2)
	if err != nil {
		return nil, err
	}
	if string(version) != ProtocolVersion {
		return nil, fieldError(msg, "version", string(version))
	}

	name, err := readField(ctx, r, msg, "initiator name", NameLength)
	if err != nil {
		return nil, err
	}

	color, err := readColor(ctx, r, msg, "follower color")
	if err != nil {
		return nil, err
	}

	thinking, err := readNumber(ctx, r, msg, "thinking time", 3, 0, MaxThinkingTime)
	if err != nil {
		return nil, err
	}

	moves, err := readNumber(ctx, r, msg, "move limit", 3, 0, MaxMoveLimit)
	if err != nil {
		return nil, err
	}

	kind, err := readField(ctx, r, msg, "starting position", 1)
	if err != nil {
		return nil, err
	}

	req := &GameRequest{
		Version:          string(version),
		InitiatorName:    string(name),
		FollowerColor:    color,
		ThinkingTime:     thinking,
		MoveLimit:        moves,
		StartingPosition: PositionKind(kind[0]),
	}

	switch req.StartingPosition {
	case NormalPosition:
		return req, nil
	case CustomPosition:
	default:
		return nil, fieldError(msg, "starting position", string(kind))
	}

	if req.ColorToMoveFirst, err = readColor(ctx, r, msg, "color to move first"); err != nil {
		return nil, err
	}

	position, err := readField(ctx, r, msg, "position", PositionLength)
	if err != nil {
		return nil, err
	}
	if !validPosition(string(position)) {
		return nil, fieldError(msg, "position", string(position))
	}
	req.Position = string(position)

	return req, nil
}

// DecodeGameAcceptance decodes the fields following an 'A' opcode.
func DecodeGameAcceptance(ctx context.Context, r FieldReader) (*GameAcceptance, error) {
	const msg = "game acceptance"

	name, err := readField(ctx, r, msg, "follower name", NameLength)
	if err != nil {
		return nil, err
	}

	code, err := readNumber(ctx, r, msg, "acceptance code", 1, 0, 3)
	if err != nil {
		return nil, err
	}

	return &GameAcceptance{FollowerName: string(name), AcceptanceCode: code}, nil
}

// DecodeMove decodes the fields following an 'M' opcode.
func DecodeMove(ctx context.Context, r FieldReader) (*Move, error) {
	const msg = "move"

	t, err := readNumber(ctx, r, msg, "time", 4, 0, MaxMoveTime)
	if err != nil {
		return nil, err
	}
	from, err := readNumber(ctx, r, msg, "from", 2, MinSquare, MaxSquare)
	if err != nil {
		return nil, err
	}
	to, err := readNumber(ctx, r, msg, "to", 2, MinSquare, MaxSquare)
	if err != nil {
		return nil, err
	}
	count, err := readNumber(ctx, r, msg, "captured count", 2, 0, MaxCaptured)
	if err != nil {
		return nil, err
	}

	m := &Move{Time: t, From: from, To: to}
	for i := 0; i < count; i++ {
		sq, err := readNumber(ctx, r, msg, "captured piece", 2, MinSquare, MaxSquare)
		if err != nil {
			return nil, err
		}
		m.Captured = append(m.Captured, sq)
	}

	return m, nil
}

// DecodeGameEnd decodes the fields following an 'E' opcode.
func DecodeGameEnd(ctx context.Context, r FieldReader) (*GameEnd, error) {
	const msg = "game end"

	reason, err := readNumber(ctx, r, msg, "reason", 1, 0, 3)
	if err != nil {
		return nil, err
	}
	stop, err := readNumber(ctx, r, msg, "stop code", 1, 0, 1)
	if err != nil {
		return nil, err
	}

	return &GameEnd{Reason: reason, StopCode: stop}, nil
}

// DecodeBackRequest decodes the fields following a 'B' opcode.
func DecodeBackRequest(ctx context.Context, r FieldReader) (*BackRequest, error) {
	const msg = "back request"

	n, err := readNumber(ctx, r, msg, "move number", 3, 1, 999)
	if err != nil {
		return nil, err
	}
	color, err := readColor(ctx, r, msg, "color on move")
	if err != nil {
		return nil, err
	}

	return &BackRequest{MoveNumber: n, ColorOnMove: color}, nil
}

// DecodeBackAcceptance decodes the field following a 'K' opcode.
func DecodeBackAcceptance(ctx context.Context, r FieldReader) (*BackAcceptance, error) {
	code, err := readNumber(ctx, r, "back acceptance", "acceptance code", 1, 0, 2)
	if err != nil {
		return nil, err
	}
	return &BackAcceptance{AcceptanceCode: code}, nil
}

// DecodeChat takes the text following a 'C' opcode. Chat is not length
// prefixed: it is whatever is available right now, up to MaxChatLength bytes,
// ending early at an idle byte which is left in place.
func DecodeChat(r FieldReader) *Chat {
	text := r.ReadAvailable(MaxChatLength)
	for i, c := range text {
		if c == IdleByte {
			r.Unread(text[i:])
			text = text[:i]
			break
		}
	}
	return &Chat{Text: string(text)}
}

func (m *GameRequest) Validate() error {
	const msg = "game request"

	if m.Version != ProtocolVersion {
		return fieldError(msg, "version", m.Version)
	}
	if !m.FollowerColor.valid() {
		return fieldError(msg, "follower color", m.FollowerColor.String())
	}
	if m.ThinkingTime < 0 || m.ThinkingTime > MaxThinkingTime {
		return fieldError(msg, "thinking time", m.ThinkingTime)
	}
	if m.MoveLimit < 0 || m.MoveLimit > MaxMoveLimit {
		return fieldError(msg, "move limit", m.MoveLimit)
	}

	switch m.StartingPosition {
	case NormalPosition:
		if m.ColorToMoveFirst != NoColor || m.Position != "" {
			return fieldError(msg, "position", m.Position)
		}
	case CustomPosition:
		if !m.ColorToMoveFirst.valid() {
			return fieldError(msg, "color to move first", m.ColorToMoveFirst.String())
		}
		if !validPosition(m.Position) {
			return fieldError(msg, "position", m.Position)
		}
	default:
		return fieldError(msg, "starting position", string(rune(m.StartingPosition)))
	}
	return nil
}

func (m *GameRequest) appendFields(dst []byte) []byte {
	dst = append(dst, m.Version...)
	dst = append(dst, PadName(m.InitiatorName)...)
	dst = append(dst, byte(m.FollowerColor))
	dst = append(dst, padNumber(m.ThinkingTime, 3)...)
	dst = append(dst, padNumber(m.MoveLimit, 3)...)
	dst = append(dst, byte(m.StartingPosition))
	if m.StartingPosition == CustomPosition {
		dst = append(dst, byte(m.ColorToMoveFirst))
		dst = append(dst, m.Position...)
	}
	return dst
}

func (m *GameAcceptance) Validate() error {
	if m.AcceptanceCode < 0 || m.AcceptanceCode > 3 {
		return fieldError("game acceptance", "acceptance code", m.AcceptanceCode)
	}
	return nil
}

func (m *GameAcceptance) appendFields(dst []byte) []byte {
	dst = append(dst, PadName(m.FollowerName)...)
	return append(dst, padNumber(m.AcceptanceCode, 1)...)
}

func (m *Move) Validate() error {
	const msg = "move"

	if m.Time < 0 || m.Time > MaxMoveTime {
		return fieldError(msg, "time", m.Time)
	}
	if !validSquare(m.From) {
		return fieldError(msg, "from", m.From)
	}
	if !validSquare(m.To) {
		return fieldError(msg, "to", m.To)
	}
	if len(m.Captured) > MaxCaptured {
		return fieldError(msg, "captured count", len(m.Captured))
	}
	for _, sq := range m.Captured {
		if !validSquare(sq) {
			return fieldError(msg, "captured piece", sq)
		}
	}
	return nil
}

func (m *Move) appendFields(dst []byte) []byte {
	dst = append(dst, padNumber(m.Time, 4)...)
	dst = append(dst, padNumber(m.From, 2)...)
	dst = append(dst, padNumber(m.To, 2)...)
	dst = append(dst, padNumber(len(m.Captured), 2)...)
	for _, sq := range m.Captured {
		dst = append(dst, padNumber(sq, 2)...)
	}
	return dst
}

func (m *GameEnd) Validate() error {
	if m.Reason < 0 || m.Reason > 3 {
		return fieldError("game end", "reason", m.Reason)
	}
	if m.StopCode != 0 && m.StopCode != 1 {
		return fieldError("game end", "stop code", m.StopCode)
	}
	return nil
}

func (m *GameEnd) appendFields(dst []byte) []byte {
	dst = append(dst, padNumber(m.Reason, 1)...)
	return append(dst, padNumber(m.StopCode, 1)...)
}

func (m *BackRequest) Validate() error {
	if m.MoveNumber < 1 || m.MoveNumber > 999 {
		return fieldError("back request", "move number", m.MoveNumber)
	}
	if !m.ColorOnMove.valid() {
		return fieldError("back request", "color on move", m.ColorOnMove.String())
	}
	return nil
}

func (m *BackRequest) appendFields(dst []byte) []byte {
	dst = append(dst, padNumber(m.MoveNumber, 3)...)
	return append(dst, byte(m.ColorOnMove))
}

func (m *BackAcceptance) Validate() error {
	if m.AcceptanceCode < 0 || m.AcceptanceCode > 2 {
		return fieldError("back acceptance", "acceptance code", m.AcceptanceCode)
	}
	return nil
}

func (m *BackAcceptance) appendFields(dst []byte) []byte {
	return append(dst, padNumber(m.AcceptanceCode, 1)...)
}

func (m *Chat) Validate() error {
	if len(m.Text) > MaxChatLength || strings.IndexByte(m.Text, IdleByte) >= 0 {
		return fieldError("chat", "text", m.Text)
	}
	return nil
}

func (m *Chat) appendFields(dst []byte) []byte {
	return append(dst, m.Text...)
}

// PadName right-pads s with '0' or truncates it to NameLength bytes.
func PadName(s string) string {
	if len(s) >= NameLength {
		return s[:NameLength]
	}
	return s + strings.Repeat("0", NameLength-len(s))
}

// ParseColor normalizes a color letter: W/w is white, B/b/Z/z is black.
func ParseColor(s string) (Color, error) {
	switch s {
	case "W", "w":
		return White, nil
	case "B", "b", "Z", "z":
		return Black, nil
	default:
		return NoColor, errors.Wrapf(ErrInvalidArgument, "color %q", s)
	}
}

// NormalizePosition maps the alternative black letters b/B to z/Z.
func NormalizePosition(s string) string {
	return strings.NewReplacer("b", "z", "B", "Z").Replace(s)
}

func padNumber(n, width int) string {
	return fmt.Sprintf("%0*d", width, n)
}

func validSquare(n int) bool {
	return n >= MinSquare && n <= MaxSquare
}

func validPosition(s string) bool {
	if len(s) != PositionLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case 'e', 'w', 'z', 'W', 'Z':
		default:
			return false
		}
	}
	return true
}

func readField(ctx context.Context, r FieldReader, msg, field string, n int) ([]byte, error) {
	b, err := r.ReadExact(ctx, n)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: read %s", msg, field)
	}
	return b, nil
}

func readColor(ctx context.Context, r FieldReader, msg, field string) (Color, error) {
	b, err := readField(ctx, r, msg, field, 1)
	if err != nil {
		return NoColor, err
	}
	c := Color(b[0])
	if !c.valid() {
		return NoColor, fieldError(msg, field, string(b))
	}
	return c, nil
}

func readNumber(ctx context.Context, r FieldReader, msg, field string, width, lo, hi int) (int, error) {
	b, err := readField(ctx, r, msg, field, width)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, fieldError(msg, field, string(b))
		}
		n = n*10 + int(c-'0')
	}
	if n < lo || n > hi {
		return 0, fieldError(msg, field, string(b))
	}
	return n, nil
}
