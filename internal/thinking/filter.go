// Package thinking strips <think> blocks out of streamed model output and
// fans the removed text out to diagnostic subscribers.
package thinking

import "strings"

const (
	openTag  = "<think>"
	closeTag = "</think>"
)

type filterState int

const (
	stateOutside filterState = iota
	stateMaybeOpen
	stateInside
	stateMaybeClose
)

// Filter removes <think>…</think> spans from a character stream fed in
// arbitrary chunks. Matching is exact: lowercase, no whitespace. Text outside
// the tags is emitted verbatim; text inside (and the tags themselves) is
// diverted to the thinking output. The split point between chunks never
// changes the result.
//
// A Filter carries at most one partial tag (8 bytes) between chunks. It is
// not safe for concurrent use; every response stream owns its own instance.
type Filter struct {
	state filterState
	tag   []byte
}

// NewFilter returns a Filter in the outside state.
func NewFilter() *Filter {
	return &Filter{tag: make([]byte, 0, len(closeTag))}
}

// InsideThinking reports whether the filter is currently within an unclosed
// <think> block.
func (f *Filter) InsideThinking() bool {
	return f.state == stateInside || f.state == stateMaybeClose
}

// Feed processes one chunk and returns the clean text and the thinking text
// it produced. Either result may be empty when the chunk ends inside a
// partial tag.
func (f *Filter) Feed(chunk string) (clean, thought string) {
	var out, think strings.Builder
	for i := 0; i < len(chunk); i++ {
		f.step(chunk[i], &out, &think)
	}
	return out.String(), think.String()
}

// step advances the state machine by one byte. Tag bytes are ASCII, so
// byte-wise scanning cannot split a UTF-8 sequence: continuation bytes never
// collide with '<'.
func (f *Filter) step(c byte, out, think *strings.Builder) {
	for {
		switch f.state {
		case stateOutside:
			if c == '<' {
				f.state = stateMaybeOpen
				f.tag = append(f.tag[:0], c)
				return
			}
			out.WriteByte(c)
			return

		case stateMaybeOpen:
			f.tag = append(f.tag, c)
			if string(f.tag) == openTag {
				f.state = stateInside
				f.tag = f.tag[:0]
				return
			}
			if strings.HasPrefix(openTag, string(f.tag)) {
				return
			}
			// Not an opening tag after all: release everything buffered
			// before this byte and rescan the byte from outside.
			out.Write(f.tag[:len(f.tag)-1])
			f.tag = f.tag[:0]
			f.state = stateOutside
			continue

		case stateInside:
			if c == '<' {
				f.state = stateMaybeClose
				f.tag = append(f.tag[:0], c)
				return
			}
			think.WriteByte(c)
			return

		case stateMaybeClose:
			f.tag = append(f.tag, c)
			if string(f.tag) == closeTag {
				f.state = stateOutside
				f.tag = f.tag[:0]
				return
			}
			if strings.HasPrefix(closeTag, string(f.tag)) {
				return
			}
			// False close: the buffered bytes belong to the thinking text.
			think.Write(f.tag[:len(f.tag)-1])
			f.tag = f.tag[:0]
			f.state = stateInside
			continue
		}
	}
}

// Flush drains the filter at end of stream. An unmatched partial open tag was
// ordinary text and is returned as clean; a partial close tag belongs to the
// thinking text. An unterminated think block gets no synthetic close.
func (f *Filter) Flush() (clean, thought string) {
	switch f.state {
	case stateMaybeOpen:
		clean = string(f.tag)
	case stateMaybeClose:
		thought = string(f.tag)
	}
	f.tag = f.tag[:0]
	f.state = stateOutside
	return clean, thought
}

// Strip runs a complete string through a fresh filter, returning the clean
// text and the extracted thinking. Used for non-streaming responses.
func Strip(s string) (clean, thought string) {
	f := NewFilter()
	clean, thought = f.Feed(s)
	fc, ft := f.Flush()
	return clean + fc, thought + ft
}
