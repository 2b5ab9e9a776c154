package at

import (
	"strings"
	"sync"
)

type urcPrefix struct {
	prefix string
	kind   Kind
}

var (
	crlf = strings.NewReplacer("\r\n", "\r", "\n", "\r")

	unsolicited = []urcPrefix{
		{"+CMTI:", KindNewMessage},
		{"+CDSI:", KindStatusReport},
		{"+CRING:", KindIncomingCall},
		{"+CLIP:", KindIncomingCall},
	}

	// Unsolicited headers followed by a PDU line.
	unsolicitedPDU = []urcPrefix{
		{"+CMT:", KindNewMessage},
		{"+CDS:", KindStatusReport},
	}
)

// Framer cuts the modem byte stream into frames. A frame ends at a final
// result code, at the "> " prompt, or is a single unsolicited result. The
// frames produced do not depend on how the stream was chunked.
type Framer struct {
	mu      sync.Mutex
	pending string
	emit    func(Frame)
}

// NewFramer returns a Framer handing every complete frame to emit.
func NewFramer(emit func(Frame)) *Framer {
	return &Framer{emit: emit}
}

// Write appends a chunk read from the modem and emits the frames it
// completes.
func (f *Framer) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = f.Parse(f.pending + string(p))
	return len(p), nil
}

// Pending returns the text received but not yet framed.
func (f *Framer) Pending() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending
}

// Reset drops any partial frame.
func (f *Framer) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = ""
}

// Parse emits every frame contained in buffer and returns the text that
// does not complete a frame yet.
func (f *Framer) Parse(buffer string) string {
	buffer = crlf.Replace(buffer)
	var segment []string

	for {
		buffer = strings.TrimLeft(buffer, " \r")
		if rest, ok := strings.CutPrefix(buffer, ">"); ok {
			f.emit(Frame{Text: strings.Join(append(segment, ">"), "\n"), Kind: KindPrompt})
			segment = nil
			buffer = rest
			continue
		}

		i := strings.IndexByte(buffer, '\r')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(buffer[:i])
		rest := buffer[i+1:]

		if kind, ok := matchPrefix(line, unsolicitedPDU); ok {
			body := strings.TrimLeft(rest, " \r")
			j := strings.IndexByte(body, '\r')
			if j < 0 {
				break
			}
			f.emit(Frame{Text: line + "\n" + strings.TrimSpace(body[:j]), Kind: kind})
			buffer = body[j+1:]
			continue
		}
		buffer = rest

		if kind, ok := unsolicitedKind(line); ok {
			f.emit(Frame{Text: line, Kind: kind})
			continue
		}

		segment = append(segment, line)
		if result, text := classify(line); result != None {
			f.emit(Frame{Text: strings.Join(segment, "\n"), Kind: KindReply, Result: result, ErrorText: text})
			segment = nil
		}
	}

	if len(segment) == 0 {
		return buffer
	}
	return strings.Join(segment, "\r") + "\r" + buffer
}

func unsolicitedKind(line string) (Kind, bool) {
	if line == "RING" {
		return KindIncomingCall, true
	}
	return matchPrefix(line, unsolicited)
}

func matchPrefix(line string, table []urcPrefix) (Kind, bool) {
	for _, u := range table {
		if strings.HasPrefix(line, u.prefix) {
			return u.kind, true
		}
	}
	return KindReply, false
}
