// Package at frames the byte stream coming back from a modem into
// responses and classifies them.
package at

import (
	"fmt"
	"strconv"
	"strings"
)

// Result is the outcome carried by a frame, or produced by the transport
// while waiting for one.
type Result int

const (
	None Result = iota
	Ok
	Error
	CMEError
	CMSError
	IOError
	TimeoutError
	ParseFail
	UnknownModemData
)

var resultNames = [...]string{
	None:             "none",
	Ok:               "ok",
	Error:            "error",
	CMEError:         "cme_error",
	CMSError:         "cms_error",
	IOError:          "io_error",
	TimeoutError:     "timeout",
	ParseFail:        "parse_fail",
	UnknownModemData: "unknown_modem_data",
}

func (r Result) String() string {
	if r >= 0 && int(r) < len(resultNames) {
		return resultNames[r]
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Failed reports whether r ends a command unsuccessfully.
func (r Result) Failed() bool {
	return r != None && r != Ok
}

// Kind tells how a frame should be routed.
type Kind int

const (
	KindReply Kind = iota
	KindPrompt
	KindNewMessage
	KindStatusReport
	KindIncomingCall
)

func (k Kind) String() string {
	switch k {
	case KindReply:
		return "reply"
	case KindPrompt:
		return "prompt"
	case KindNewMessage:
		return "new_message"
	case KindStatusReport:
		return "status_report"
	case KindIncomingCall:
		return "incoming_call"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Unsolicited reports whether frames of this kind arrive without a command.
func (k Kind) Unsolicited() bool {
	return k >= KindNewMessage
}

// Frame is one complete response from the modem.
type Frame struct {
	Text      string
	Kind      Kind
	Result    Result
	ErrorText string // verbose text of a CME/CMS error
}

// Lines returns the non-empty lines of the frame.
func (f Frame) Lines() []string {
	if f.Text == "" {
		return nil
	}
	return strings.Split(f.Text, "\n")
}

// Contains reports whether any line of the frame starts with prefix.
func (f Frame) Contains(prefix string) bool {
	for _, l := range f.Lines() {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}

// Value returns the text after "prefix" on the first line carrying it, with
// surrounding spaces removed.
func (f Frame) Value(prefix string) (string, bool) {
	for _, l := range f.Lines() {
		if v, ok := strings.CutPrefix(l, prefix); ok {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// Err converts a failed frame into an error value, nil otherwise.
func (f Frame) Err() error {
	switch f.Result {
	case CMEError:
		return CMEErr(f.ErrorText)
	case CMSError:
		return CMSErr(f.ErrorText)
	case Error:
		return ErrError
	}
	return nil
}

// classify sets the result of a reply frame from its final line.
func classify(last string) (Result, string) {
	switch {
	case last == "OK":
		return Ok, ""
	case last == "ERROR":
		return Error, ""
	case strings.HasPrefix(last, "+CME ERROR:"):
		return CMEError, resolve(cmeErrors, strings.TrimSpace(last[len("+CME ERROR:"):]))
	case strings.HasPrefix(last, "+CMS ERROR:"):
		return CMSError, resolve(cmsErrors, strings.TrimSpace(last[len("+CMS ERROR:"):]))
	}
	return None, ""
}

// resolve maps a numeric error code to its text. Verbose errors (AT+CMEE=2)
// are already text and are returned unchanged.
func resolve(table map[int]string, v string) string {
	n, err := strconv.Atoi(v)
	if err != nil {
		return v
	}
	if text, ok := table[n]; ok {
		return text
	}
	return "error " + v
}
