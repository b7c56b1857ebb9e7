package control

import (
	"errors"
	"strings"
)

var (
	// ErrUnauthorized is returned for a datagram without the configured token
	// prefix.
	ErrUnauthorized = errors.New("control: missing or wrong token")

	// ErrMalformed is returned for a datagram that is not a known message.
	ErrMalformed = errors.New("control: malformed message")
)

// Kind is the type of a control message.
type Kind int

const (
	KindPause Kind = iota + 1
	KindResume
	KindTrigger
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindPause:
		return "pause"
	case KindResume:
		return "resume"
	case KindTrigger:
		return "trigger"
	case KindCommand:
		return "command"
	default:
		return "unknown"
	}
}

// Wire prefixes. Matching is case-sensitive.
const (
	prefixCtrl    = "CTRL:"
	prefixTrigger = "TRIGGER:"
	prefixCmd     = "CMD:"
)

// Message is a parsed control datagram.
type Message struct {
	Kind Kind

	// Arg is the phrase of a trigger or the shell text of a command.
	Arg string
}

// Parse decodes one datagram. When token is non-empty the datagram must
// begin with "<token>:" exactly. Surrounding whitespace is ignored.
//
// Accepted bodies:
//
//	CTRL:PAUSE
//	CTRL:RESUME
//	TRIGGER:<phrase>
//	CMD:<shell text>
func Parse(raw []byte, token string) (Message, error) {
	s := strings.TrimSpace(string(raw))
	if token != "" {
		body, ok := strings.CutPrefix(s, token+":")
		if !ok {
			return Message{}, ErrUnauthorized
		}
		s = body
	}

	switch {
	case strings.HasPrefix(s, prefixCtrl):
		switch strings.TrimSpace(s[len(prefixCtrl):]) {
		case "PAUSE":
			return Message{Kind: KindPause}, nil
		case "RESUME":
			return Message{Kind: KindResume}, nil
		}
	case strings.HasPrefix(s, prefixTrigger):
		if arg := strings.TrimSpace(s[len(prefixTrigger):]); arg != "" {
			return Message{Kind: KindTrigger, Arg: arg}, nil
		}
	case strings.HasPrefix(s, prefixCmd):
		if arg := strings.TrimSpace(s[len(prefixCmd):]); arg != "" {
			return Message{Kind: KindCommand, Arg: arg}, nil
		}
	}
	return Message{}, ErrMalformed
}

// Encode renders m in wire form, prefixed with token when non-empty.
func (m Message) Encode(token string) []byte {
	var body string
	switch m.Kind {
	case KindPause:
		body = prefixCtrl + "PAUSE"
	case KindResume:
		body = prefixCtrl + "RESUME"
	case KindTrigger:
		body = prefixTrigger + m.Arg
	case KindCommand:
		body = prefixCmd + m.Arg
	}
	if token != "" {
		body = token + ":" + body
	}
	return []byte(body)
}
