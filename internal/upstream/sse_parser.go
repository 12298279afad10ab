package upstream

import (
	"bytes"

	"github.com/anyclaude/anyclaude/internal/reasoning"
)

// sseLineParser incrementally splits a byte stream into SSE events (a
// sequence of lines terminated by a blank line) and hands each event's
// type and data to a reasoning.StreamAccumulator. It tolerates events
// split across arbitrarily many Feed calls.
type sseLineParser struct {
	acc      *reasoning.StreamAccumulator
	buf      []byte
	curEvent string
	curData  bytes.Buffer
}

func newSSELineParser(acc *reasoning.StreamAccumulator) *sseLineParser {
	return &sseLineParser{acc: acc}
}

// Feed appends chunk to the internal buffer and processes every complete
// line found so far.
func (p *sseLineParser) Feed(chunk []byte) {
	p.buf = append(p.buf, chunk...)
	for {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx == -1 {
			return
		}
		line := bytes.TrimRight(p.buf[:idx], "\r")
		p.buf = p.buf[idx+1:]
		p.handleLine(line)
	}
}

func (p *sseLineParser) handleLine(line []byte) {
	switch {
	case len(line) == 0:
		if p.curEvent != "" {
			p.acc.HandleEvent(p.curEvent, p.curData.Bytes())
		}
		p.curEvent = ""
		p.curData.Reset()
	case bytes.HasPrefix(line, []byte("event:")):
		p.curEvent = string(bytes.TrimSpace(line[len("event:"):]))
	case bytes.HasPrefix(line, []byte("data:")):
		if p.curData.Len() > 0 {
			p.curData.WriteByte('\n')
		}
		p.curData.Write(bytes.TrimSpace(line[len("data:"):]))
	}
}
