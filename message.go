package tinysse

import (
	"bufio"
	"strconv"
	"strings"
)

// Message is the publishable unit that flows through the broadcast queue and
// out to subscribers as a rendered SSE frame.
//
// At least one of Id, Event, Data or Comment must be set; ValidateNonEmpty
// enforces that at the boundary between the HTTP decode path and the publish
// hook.
type Message struct {
	Id      string
	Event   string
	Data    string
	Comment []string
}

// ValidateNonEmpty reports whether at least one field of m carries content.
func (m Message) ValidateNonEmpty() bool {
	return m.Id != "" || m.Event != "" || m.Data != "" || len(m.Comment) > 0
}

// Clone returns a shallow, independent copy of m suitable for handing to a
// single subscriber's message(pub, sub) hook: mutations the hook makes to
// its own copy are never observable by any other subscriber.
func (m Message) Clone() Message {
	clone := m
	if m.Comment != nil {
		clone.Comment = append([]string(nil), m.Comment...)
	}
	return clone
}

// SseFrame is the rendered, line-oriented wire form of a Message, always
// terminated by a blank line.
type SseFrame []byte

// RenderFrame serializes m into the SSE wire format: comment lines first,
// then id, then event, then one data line per newline-separated line of Data.
func RenderFrame(m Message) SseFrame {
	var b strings.Builder
	for _, c := range m.Comment {
		b.WriteString(": ")
		b.WriteString(c)
		b.WriteByte('\n')
	}
	if m.Id != "" {
		b.WriteString("id: ")
		b.WriteString(m.Id)
		b.WriteByte('\n')
	}
	if m.Event != "" {
		b.WriteString("event: ")
		b.WriteString(m.Event)
		b.WriteByte('\n')
	}
	if m.Data != "" {
		for _, line := range strings.Split(m.Data, "\n") {
			b.WriteString("data: ")
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	b.WriteByte('\n')
	return SseFrame(b.String())
}

// CommentFrame renders a single-line comment-only frame, used for the hello
// frame and for keep-alives.
func CommentFrame(text string) SseFrame {
	return SseFrame(": " + text + "\n\n")
}

// RetryFrame renders a `retry:` frame emitted immediately before a session
// closes due to idle timeout.
func RetryFrame(ms int64) SseFrame {
	return SseFrame("retry: " + strconv.FormatInt(ms, 10) + "\n\n")
}

// ParseFrame parses a single rendered SSE frame (without its trailing blank
// line) back into a Message. It is the inverse of RenderFrame and exists
// to make the round-trip property (P3) testable; catch-up messages reach
// the session as tables converted by the script package, not as frames.
func ParseFrame(frame []byte) Message {
	var m Message
	var dataLines []string

	sc := bufio.NewScanner(strings.NewReader(string(frame)))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, ": "):
			m.Comment = append(m.Comment, strings.TrimPrefix(line, ": "))
		case strings.HasPrefix(line, "id: "):
			m.Id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			m.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		}
	}
	if len(dataLines) > 0 {
		m.Data = strings.Join(dataLines, "\n")
	}
	return m
}
