// ABOUTME: Tests for the transcript view that renders conversation snapshots.
// ABOUTME: Covers incremental printing, optimistic delivery, earlier pages and status lines.

package main

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/2389/coven-console/internal/conversation"
	"github.com/2389/coven-console/internal/message"
	"github.com/2389/coven-console/internal/scope"
	"github.com/2389/coven-console/internal/stream"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

var viewT0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func viewThread() *message.Thread {
	return &message.Thread{ID: "th-1", ParticipantID: "p1", WorkflowType: "support"}
}

func chat(id string, dir message.Direction, text string, at time.Time) message.Message {
	return message.Message{
		ID:        id,
		ThreadID:  "th-1",
		Direction: dir,
		Type:      message.TypeChat,
		Text:      text,
		CreatedAt: at,
	}
}

func snapshotOf(msgs ...message.Message) conversation.Snapshot {
	return conversation.Snapshot{
		Thread:    viewThread(),
		Selection: scope.All(),
		Messages:  msgs,
	}
}

func TestView_PrintsHeaderAndMessagesOldestFirst(t *testing.T) {
	var out bytes.Buffer
	v := newView(&out, nil)

	v.Render(snapshotOf(
		chat("m2", message.DirectionOutgoing, "second reply", viewT0.Add(time.Minute)),
		chat("m1", message.DirectionIncoming, "first question", viewT0),
	))

	text := out.String()
	assert.Contains(t, text, "── thread th-1")
	assert.Contains(t, text, "topic=all")
	assert.Less(t, strings.Index(text, "first question"), strings.Index(text, "second reply"))
	assert.Contains(t, text, "you")
	assert.Contains(t, text, "support")
}

func TestView_RenderIsIncremental(t *testing.T) {
	var out bytes.Buffer
	v := newView(&out, nil)

	s := snapshotOf(chat("m1", message.DirectionIncoming, "only once", viewT0))
	v.Render(s)
	out.Reset()

	v.Render(s)
	assert.Empty(t, out.String())

	v.Render(snapshotOf(
		chat("m2", message.DirectionOutgoing, "new arrival", viewT0.Add(time.Second)),
		chat("m1", message.DirectionIncoming, "only once", viewT0),
	))
	assert.Contains(t, out.String(), "new arrival")
	assert.NotContains(t, out.String(), "only once")
}

func TestView_OptimisticEchoShownAsDelivered(t *testing.T) {
	var out bytes.Buffer
	v := newView(&out, func(id string) bool { return id == "m-9" })

	v.Render(snapshotOf(chat("temp-1", message.DirectionIncoming, "hello there", viewT0)))
	assert.Contains(t, out.String(), "(sending)")

	v.Render(snapshotOf(chat("m-9", message.DirectionIncoming, "hello there", viewT0.Add(time.Second))))

	assert.Contains(t, out.String(), "✓ delivered")
	assert.Equal(t, 1, strings.Count(out.String(), "hello there"))
}

func TestView_JustSentWithoutOptimisticIsPrinted(t *testing.T) {
	var out bytes.Buffer
	v := newView(&out, func(string) bool { return true })

	v.Render(snapshotOf(chat("m-9", message.DirectionIncoming, "from history", viewT0)))

	assert.Contains(t, out.String(), "from history")
	assert.NotContains(t, out.String(), "delivered")
}

func TestView_OlderPageMarkedAsEarlier(t *testing.T) {
	var out bytes.Buffer
	v := newView(&out, nil)

	v.Render(snapshotOf(chat("m2", message.DirectionOutgoing, "recent", viewT0.Add(time.Hour))))
	out.Reset()

	v.Render(snapshotOf(
		chat("m2", message.DirectionOutgoing, "recent", viewT0.Add(time.Hour)),
		chat("m1", message.DirectionIncoming, "ancient", viewT0),
	))

	text := out.String()
	assert.Contains(t, text, "earlier messages")
	assert.Contains(t, text, "ancient")
	assert.NotContains(t, text, "recent")
}

func TestView_TopicChangeStartsNewSection(t *testing.T) {
	var out bytes.Buffer
	v := newView(&out, nil)

	m := chat("m1", message.DirectionIncoming, "scoped", viewT0)
	m.Scope = message.StringPtr("alpha")
	v.Render(snapshotOf(m))

	s := snapshotOf(m)
	s.Selection = scope.Named("alpha")
	out.Reset()
	v.Render(s)

	text := out.String()
	assert.Contains(t, text, "topic=alpha")
	assert.Contains(t, text, "scoped")
	assert.Contains(t, text, "#alpha")
}

func TestView_WorkflowChangeIsAnnounced(t *testing.T) {
	var out bytes.Buffer
	v := newView(&out, nil)

	s := snapshotOf(chat("m1", message.DirectionIncoming, "hello", viewT0))
	v.Render(s)
	v.Render(s)
	assert.NotContains(t, out.String(), "now handled by")

	s.Thread = &message.Thread{ID: "th-1", ParticipantID: "p1", WorkflowType: "billing", WorkflowID: "wf-2"}
	v.Render(s)
	v.Render(s)

	assert.Equal(t, 1, strings.Count(out.String(), "· now handled by workflow=billing/wf-2"))
	assert.Equal(t, 1, strings.Count(out.String(), "hello"), "history is not reprinted")
}

func TestView_StatusLines(t *testing.T) {
	var out bytes.Buffer
	v := newView(&out, nil)

	s := snapshotOf()
	s.StreamState = stream.StateOpen
	s.HasMore = true
	s.LoadErr = errors.New("history unavailable")
	v.Render(s)

	text := out.String()
	assert.Contains(t, text, "· live")
	assert.Contains(t, text, "older messages available")
	assert.Contains(t, text, "could not load messages: history unavailable")

	out.Reset()
	v.Render(s)
	assert.Empty(t, out.String())

	s.StreamState = stream.StateClosed
	s.StreamErr = errors.New("connection reset")
	v.Render(s)
	assert.Contains(t, out.String(), "stream closed")
	assert.Contains(t, out.String(), "stream error: connection reset")
}

func TestView_ReplyIndicator(t *testing.T) {
	var out bytes.Buffer
	v := newView(&out, nil)

	v.Reply(conversation.ReplySent)
	assert.Empty(t, out.String())

	v.Reply(conversation.ReplyAwaiting)
	assert.Contains(t, out.String(), "waiting for a reply")

	out.Reset()
	v.Reply(conversation.ReplyAwaiting)
	assert.Empty(t, out.String())

	v.Reply(conversation.ReplyPossibleError)
	assert.Contains(t, out.String(), "may have hit an error")
}

func TestFormatMessage(t *testing.T) {
	handover := message.Message{
		ID:        "h1",
		Direction: message.DirectionHandover,
		Type:      message.TypeHandoff,
		Data:      []byte(`{"to":"billing"}`),
		CreatedAt: viewT0,
	}
	assert.Contains(t, formatMessage(handover), `[handover] {"to":"billing"}`)

	data := message.Message{ID: "d1", Direction: message.DirectionOutgoing, Type: message.TypeData, CreatedAt: viewT0}
	assert.Contains(t, formatMessage(data), "[data]")

	md := chat("m1", message.DirectionOutgoing, "**Done**\n\n- one\n- two", viewT0)
	md.WorkflowType = "billing"
	got := formatMessage(md)
	assert.Contains(t, got, "billing")
	assert.Contains(t, got, "Done")
	assert.NotContains(t, got, "**")
	assert.Contains(t, got, "\n    - one")
}
