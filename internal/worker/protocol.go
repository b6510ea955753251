package worker

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// DisplayPrefix namespaces filenames submitted on the display channel so
// they never collide with player entries in a shared cache.
const DisplayPrefix = "@display-"

var ErrMalformedMessage = errors.New("malformed worker message")

// DisplayID returns the display channel name for filename
func DisplayID(filename string) string {
	return DisplayPrefix + filename
}

// IsDisplayID reports whether name belongs to the display channel
func IsDisplayID(name string) bool {
	return strings.HasPrefix(name, DisplayPrefix)
}

// StripDisplayID returns the plain filename of a display channel name
func StripDisplayID(name string) string {
	return strings.TrimPrefix(name, DisplayPrefix)
}

// ChannelOf names the logical channel a filename travels on
func ChannelOf(name string) string {
	if IsDisplayID(name) {
		return "display"
	}
	return "player"
}

// MessageType discriminates worker responses
type MessageType string

const (
	TypeCode  MessageType = "code"
	TypeError MessageType = "error"
)

// Options controls a single transform
type Options struct {
	RetainLines bool   `json:"retainLines,omitempty"`
	JSXFactory  string `json:"jsxFactory,omitempty"`
	JSXFragment string `json:"jsxFragment,omitempty"`
	Target      string `json:"target,omitempty"`
}

// withDefaults fills unset fields from defaults
func (o Options) withDefaults(defaults Options) Options {
	if o.JSXFactory == "" {
		o.JSXFactory = defaults.JSXFactory
	}
	if o.JSXFragment == "" {
		o.JSXFragment = defaults.JSXFragment
	}
	if o.Target == "" {
		o.Target = defaults.Target
	}
	o.RetainLines = o.RetainLines || defaults.RetainLines
	return o
}

// Request is one fire-and-forget submission
type Request struct {
	Filename   string  `json:"filename"`
	Code       string  `json:"code"`
	Options    Options `json:"options"`
	Generation uint64  `json:"generation,omitempty"`
}

// ErrorPayload carries a compile diagnostic
type ErrorPayload struct {
	Message string `json:"message"`
}

// Message is a worker response. Exactly one of Code or Error is meaningful,
// as selected by Type.
type Message struct {
	Filename   string        `json:"filename"`
	Type       MessageType   `json:"type"`
	Code       string        `json:"code,omitempty"`
	Error      *ErrorPayload `json:"error,omitempty"`
	Generation uint64        `json:"generation,omitempty"`
}

// CodeMessage builds a successful response
func CodeMessage(filename, code string) Message {
	return Message{Filename: filename, Type: TypeCode, Code: code}
}

// ErrorMessage builds a failed response
func ErrorMessage(filename, message string) Message {
	return Message{Filename: filename, Type: TypeError, Error: &ErrorPayload{Message: message}}
}

// EncodeMessage serializes m as the single string payload workers post
func EncodeMessage(m Message) (string, error) {
	payload, err := sonic.MarshalString(m)
	if err != nil {
		return "", fmt.Errorf("encode message for %s: %w", m.Filename, err)
	}
	return payload, nil
}

// DecodeMessage parses and validates a worker payload
func DecodeMessage(payload string) (Message, error) {
	var m Message
	if err := sonic.UnmarshalString(payload, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	if m.Filename == "" {
		return Message{}, fmt.Errorf("%w: missing filename", ErrMalformedMessage)
	}

	switch m.Type {
	case TypeCode:
	case TypeError:
		if m.Error == nil {
			m.Error = &ErrorPayload{}
		}
	default:
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, m.Type)
	}

	return m, nil
}
