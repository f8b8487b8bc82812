// ABOUTME: Topic selection for a thread's messages as a discriminated value
// ABOUTME: Distinguishes unfiltered, no-topic, empty-topic and named-topic selections

// Package scope filters a thread's messages by topic.
//
// A topic selection has four distinct states that must never be collapsed
// into one another:
//
//   - All: no filtering, every scope is visible
//   - NoTopic: only messages whose scope is null or absent
//   - Named(""): only messages whose scope is exactly the empty string
//   - Named(s): only messages whose scope equals s
package scope

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/2389/coven-console/internal/message"
)

// Kind discriminates a Selection.
type Kind int

const (
	KindAll Kind = iota
	KindNoTopic
	KindEmptyTopic
	KindNamed
)

// Selection is the currently selected topic. The zero value selects all
// topics.
type Selection struct {
	kind Kind
	name string
}

// All returns the unfiltered selection.
func All() Selection {
	return Selection{kind: KindAll}
}

// NoTopic selects messages without a scope.
func NoTopic() Selection {
	return Selection{kind: KindNoTopic}
}

// Named selects messages whose scope equals name. Named("") selects the
// empty-string topic, which is distinct from NoTopic.
func Named(name string) Selection {
	if name == "" {
		return Selection{kind: KindEmptyTopic}
	}
	return Selection{kind: KindNamed, name: name}
}

// FromScope converts a message scope into the selection that shows it.
func FromScope(s *string) Selection {
	if s == nil {
		return NoTopic()
	}
	return Named(*s)
}

// Kind returns the discriminant.
func (s Selection) Kind() Kind {
	return s.kind
}

// Name returns the topic name for KindNamed, and "" otherwise.
func (s Selection) Name() string {
	return s.name
}

// IsAll reports whether the selection performs no filtering.
func (s Selection) IsAll() bool {
	return s.kind == KindAll
}

// Matches reports whether a message with the given scope is visible.
func (s Selection) Matches(msgScope *string) bool {
	switch s.kind {
	case KindAll:
		return true
	case KindNoTopic:
		return msgScope == nil
	case KindEmptyTopic:
		return msgScope != nil && *msgScope == ""
	case KindNamed:
		return msgScope != nil && *msgScope == s.name
	default:
		return false
	}
}

// Filter returns the messages visible under the selection, preserving
// order. The input is not modified.
func (s Selection) Filter(msgs []message.Message) []message.Message {
	out := make([]message.Message, 0, len(msgs))
	for _, m := range msgs {
		if s.Matches(m.Scope) {
			out = append(out, m)
		}
	}
	return out
}

// ScopeForSend returns the scope attached to messages sent while this
// selection is active. All and NoTopic send without a scope.
func (s Selection) ScopeForSend() *string {
	switch s.kind {
	case KindEmptyTopic:
		return message.StringPtr("")
	case KindNamed:
		return message.StringPtr(s.name)
	default:
		return nil
	}
}

func (s Selection) String() string {
	switch s.kind {
	case KindAll:
		return "all"
	case KindNoTopic:
		return "none"
	case KindEmptyTopic:
		return `""`
	case KindNamed:
		return s.name
	default:
		return fmt.Sprintf("Kind(%d)", int(s.kind))
	}
}

// Parse reads a selection typed by a user. "*" and "all" select all topics,
// "none" and "-" select messages without a topic, `""` selects the empty
// topic, and a quoted string selects that exact name (so `"all"` is the
// topic named all). Anything else is a topic name.
func Parse(input string) Selection {
	trimmed := strings.TrimSpace(input)
	switch strings.ToLower(trimmed) {
	case "*", "all":
		return All()
	case "none", "-":
		return NoTopic()
	}
	if len(trimmed) >= 2 && trimmed[0] == '"' && trimmed[len(trimmed)-1] == '"' {
		if unquoted, err := strconv.Unquote(trimmed); err == nil {
			return Named(unquoted)
		}
	}
	return Named(trimmed)
}
