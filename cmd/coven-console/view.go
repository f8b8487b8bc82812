// ABOUTME: Line-oriented rendering of conversation snapshots for the terminal.
// ABOUTME: Prints only new messages and changed status so the output reads as a transcript.

package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-console/internal/conversation"
	"github.com/2389/coven-console/internal/message"
	"github.com/2389/coven-console/internal/stream"
	"github.com/2389/coven-console/internal/textfmt"
)

const systemPreviewWidth = 72

// view turns controller snapshots into appended terminal lines. A line
// terminal cannot redraw, so the view remembers what it printed and only
// writes what changed.
type view struct {
	out        io.Writer
	isJustSent func(id string) bool

	mu          sync.Mutex
	printed     map[string]bool
	delivered   map[string]bool
	pending     int
	newest      time.Time
	threadID    string
	workflow    string
	selection   string
	reply       conversation.ReplyStatus
	streamState stream.State
	loadErr     string
	streamErr   string
	hasMore     bool
}

func newView(out io.Writer, isJustSent func(id string) bool) *view {
	if isJustSent == nil {
		isJustSent = func(string) bool { return false }
	}
	return &view{
		out:        out,
		isJustSent: isJustSent,
		printed:    make(map[string]bool),
		delivered:  make(map[string]bool),
	}
}

// Render prints the parts of s that differ from what is on screen.
func (v *view) Render(s conversation.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.renderHeader(s)
	v.renderMessages(s.Messages)
	v.renderStatus(s)
}

// Reply prints the reply indicator when it changes between snapshots.
func (v *view) Reply(r conversation.ReplyStatus) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.renderReply(r)
}

func (v *view) renderHeader(s conversation.Snapshot) {
	threadID := ""
	if s.Thread != nil {
		threadID = s.Thread.ID
	}
	sel := s.Selection.String()
	if threadID == v.threadID && sel == v.selection {
		if s.Thread != nil && workflowLabel(*s.Thread) != v.workflow {
			v.workflow = workflowLabel(*s.Thread)
			fmt.Fprintln(v.out, color.HiBlackString("· now handled by workflow=%s", v.workflow))
		}
		return
	}

	// New thread or topic: start over with a fresh screen section.
	v.threadID = threadID
	v.workflow = ""
	v.selection = sel
	v.printed = make(map[string]bool)
	v.delivered = make(map[string]bool)
	v.pending = 0
	v.newest = time.Time{}
	v.hasMore = false

	if s.Thread == nil {
		return
	}
	th := s.Thread
	v.workflow = workflowLabel(*th)
	fmt.Fprintf(v.out, "%s %s %s\n",
		color.New(color.Bold).Sprint("── thread "+th.ID),
		color.HiBlackString("participant=%s workflow=%s", th.ParticipantID, th.WorkflowType),
		color.HiBlackString("topic=%s", sel),
	)
}

func (v *view) renderMessages(msgs []message.Message) {
	// Snapshots are newest first; the terminal reads oldest first.
	var fresh []message.Message
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if v.printed[m.ID] {
			continue
		}
		if v.pending > 0 && !m.IsOptimistic() && v.isJustSent(m.ID) && !v.delivered[m.ID] {
			// Server echo of something already shown optimistically.
			v.pending--
			v.delivered[m.ID] = true
			v.printed[m.ID] = true
			fmt.Fprintln(v.out, color.HiBlackString("  ✓ delivered"))
			continue
		}
		fresh = append(fresh, m)
	}
	if len(fresh) == 0 {
		return
	}

	if !v.newest.IsZero() && fresh[len(fresh)-1].CreatedAt.Before(v.newest) {
		fmt.Fprintln(v.out, color.HiBlackString("── earlier messages ──"))
	}
	for _, m := range fresh {
		v.printed[m.ID] = true
		if m.IsOptimistic() {
			v.pending++
		}
		fmt.Fprintln(v.out, formatMessage(m))
		if m.CreatedAt.After(v.newest) {
			v.newest = m.CreatedAt
		}
	}
}

func (v *view) renderStatus(s conversation.Snapshot) {
	if s.StreamState != v.streamState {
		v.streamState = s.StreamState
		switch s.StreamState {
		case stream.StateOpen:
			fmt.Fprintln(v.out, color.HiBlackString("· live"))
		case stream.StateClosed:
			if s.Thread != nil {
				fmt.Fprintln(v.out, color.YellowString("· stream closed (use /refresh to reconnect)"))
			}
		}
	}

	if msg := errText(s.LoadErr); msg != v.loadErr {
		v.loadErr = msg
		if msg != "" {
			fmt.Fprintln(v.out, color.RedString("! could not load messages: %s", msg))
		}
	}
	if msg := errText(s.StreamErr); msg != v.streamErr {
		v.streamErr = msg
		if msg != "" {
			fmt.Fprintln(v.out, color.RedString("! stream error: %s", msg))
		}
	}

	if s.HasMore != v.hasMore {
		v.hasMore = s.HasMore
		if s.HasMore {
			fmt.Fprintln(v.out, color.HiBlackString("· older messages available (/more)"))
		}
	}

	v.renderReply(s.Reply)
}

func (v *view) renderReply(r conversation.ReplyStatus) {
	if r == v.reply {
		return
	}
	v.reply = r
	switch r {
	case conversation.ReplyAwaiting:
		fmt.Fprintln(v.out, color.HiBlackString("· waiting for a reply..."))
	case conversation.ReplyPossibleError:
		fmt.Fprintln(v.out, color.YellowString("· no reply yet, the agent may have hit an error"))
	}
}

func formatMessage(m message.Message) string {
	stamp := color.HiBlackString(m.CreatedAt.Local().Format("15:04:05"))

	if m.IsSystem() {
		label := string(m.Type)
		if m.Direction == message.DirectionHandover {
			label = "handover"
		}
		detail := ""
		if len(m.Data) > 0 {
			detail = " " + textfmt.Preview(string(m.Data), systemPreviewWidth)
		}
		return fmt.Sprintf("%s %s", stamp, color.MagentaString("[%s]%s", strings.ToLower(label), detail))
	}

	var who string
	switch m.Direction {
	case message.DirectionIncoming:
		who = color.GreenString("you")
	case message.DirectionOutgoing:
		who = color.CyanString(firstNonBlank(m.WorkflowType, "agent"))
	default:
		who = color.MagentaString(string(m.Direction))
	}

	topic := ""
	if name, ok := m.ScopeValue(); ok {
		topic = color.HiBlackString(" #%s", name)
	}
	pending := ""
	if m.IsOptimistic() {
		pending = color.HiBlackString(" (sending)")
	}

	body := textfmt.Plain(m.Text)
	body = strings.ReplaceAll(body, "\n", "\n    ")
	return fmt.Sprintf("%s %s%s%s\n    %s", stamp, who, topic, pending, body)
}

func workflowLabel(th message.Thread) string {
	if th.WorkflowID == "" {
		return th.WorkflowType
	}
	return th.WorkflowType + "/" + th.WorkflowID
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
