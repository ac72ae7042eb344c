package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUntyped is returned by Encode for a message whose envelope discriminant
// is empty or does not match its variant.
var ErrUntyped = errors.New("message has no matching Type")

// FormatError reports a line that could not be decoded into a message.
type FormatError struct {
	Line string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed message %q: %v", e.Line, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

var errMissingType = errors.New("missing Type")

// variants maps every known discriminant to a constructor of an empty value
// of the matching variant.
var variants = map[Type]func() Message{
	TypeJoin:                func() Message { return new(Join) },
	TypeJoinOk:              func() Message { return new(JoinOk) },
	TypeJoinReject:          func() Message { return new(JoinReject) },
	TypeSelectSong:          func() Message { return new(SelectSong) },
	TypeSelectDifficulty:    func() Message { return new(SelectDifficulty) },
	TypeReady:               func() Message { return new(Ready) },
	TypeStart:               func() Message { return new(Start) },
	TypeInput:               func() Message { return new(Input) },
	TypeHitResult:           func() Message { return new(HitResult) },
	TypeMatchSummary:        func() Message { return new(MatchSummary) },
	TypeAbort:               func() Message { return new(Abort) },
	TypeSystem:              func() Message { return new(System) },
	TypeUpdatePlayerSetting: func() Message { return new(UpdatePlayerSetting) },
}

// Known reports whether t names one of the variants of this package.
func Known(t Type) bool {
	_, ok := variants[t]
	return ok
}

// Encode serializes msg into a single newline-terminated JSON line.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, ErrUntyped
	}
	if h := msg.header(); strings.TrimSpace(string(h.Type)) == "" || h.Type != msg.Kind() {
		return nil, fmt.Errorf("%w: envelope %q, variant %q", ErrUntyped, h.Type, msg.Kind())
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	// encoding/json escapes control characters, so a marshalled value never
	// contains a raw newline.
	return append(data, '\n'), nil
}

// Decode parses one line (with or without its trailing newline). The
// discriminant is read first; an unknown discriminant yields a bare
// *Envelope.
func Decode(line []byte) (Message, error) {
	line = bytes.TrimSpace(line)

	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, &FormatError{Line: string(line), Err: err}
	}
	if strings.TrimSpace(string(env.Type)) == "" {
		return nil, &FormatError{Line: string(line), Err: errMissingType}
	}

	newVariant, ok := variants[env.Type]
	if !ok {
		return &env, nil
	}

	msg := newVariant()
	if err := json.Unmarshal(line, msg); err != nil {
		return nil, &FormatError{Line: string(line), Err: err}
	}
	return msg, nil
}
