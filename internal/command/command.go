// Package command drives a modem through multi-step AT command sequences.
//
// A Command is a list of command lines plus a transition function that
// looks at each reply frame and decides whether to move to the next line,
// finish, fail, or ignore a frame that belongs to something else. Run is
// the single engine that executes every kind of command.
package command

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/pccr10001/gsmlink/internal/at"
)

const (
	CRLF  = "\r\n"
	CtrlZ = "\x1a"
)

var (
	ErrTimeout  = errors.New("timed out waiting for modem reply")
	ErrRejected = errors.New("command rejected")
	ErrParse    = errors.New("unparseable reply")
)

// Line is one command line written to the modem.
type Line struct {
	Command    string
	Terminator string
	Number     int    // numeric argument carried alongside, e.g. a memory slot
	Display    string // shown in logs and errors instead of Command
	Timeout    time.Duration
}

func (l Line) String() string {
	if l.Display != "" {
		return l.Display
	}
	return strings.TrimSpace(l.Command)
}

func line(cmd string) Line {
	return Line{Command: cmd, Terminator: CRLF}
}

// Outcome is what a transition decides for a frame.
type Outcome int

const (
	NextCommand Outcome = iota
	Finished
	Failed
	UnexpectedReply
)

func (o Outcome) String() string {
	switch o {
	case NextCommand:
		return "next"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	case UnexpectedReply:
		return "unexpected"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Step is the engine state handed to a transition.
type Step struct {
	Index int
	Line  Line
	Last  bool // no line follows this one
}

// Decision is the result of a transition. Append adds lines after the
// current ones; Err explains a failure the frame itself does not carry and
// Result, when set, overrides the result taken from the frame.
type Decision struct {
	Outcome Outcome
	Append  []Line
	Err     error
	Result  at.Result
}

// parseFailed fails the command because a reply could not be understood.
func parseFailed(err error) Decision {
	return Decision{Outcome: Failed, Result: at.ParseFail, Err: fmt.Errorf("%w: %w", ErrParse, err)}
}

// Transition decides what a frame means for the current step.
type Transition func(s Step, f at.Frame) Decision

// Command is a logical modem operation.
type Command struct {
	Kind  Kind
	Label string
	Lines []Line
	Next  Transition
}

// Conn is the session side of the engine.
type Conn interface {
	// Write sends a command line followed by its terminator.
	Write(ctx context.Context, l Line) error
	// Next blocks until the next reply frame arrives.
	Next(ctx context.Context) (at.Frame, error)
}

// Options tune Run. OnUnexpected receives frames no step accepted, tagged
// with at.UnknownModemData.
type Options struct {
	Timeout      time.Duration // per reply, unless the line overrides it
	OnUnexpected func(at.Frame)
	OnFrame      func(Step, at.Frame, Decision)
}

// Error is returned when a command fails.
type Error struct {
	Label  string
	Line   Line
	Result at.Result
	Text   string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s failed (%s)", e.Label, e.Line, e.Result)
	if e.Text != "" {
		msg += ": " + e.Text
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Run executes cmd over conn until it finishes or fails.
func Run(ctx context.Context, conn Conn, cmd *Command, opts Options) error {
	lines := slices.Clone(cmd.Lines)
	if len(lines) == 0 {
		return nil
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	step := 0
	fail := func(result at.Result, text string, err error) error {
		return &Error{Label: cmd.Label, Line: lines[step], Result: result, Text: text, Err: err}
	}
	if err := conn.Write(ctx, lines[step]); err != nil {
		return fail(at.IOError, "", err)
	}

	for {
		timeout := opts.Timeout
		if lines[step].Timeout > 0 {
			timeout = lines[step].Timeout
		}
		rctx, cancel := context.WithTimeout(ctx, timeout)
		f, err := conn.Next(rctx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return fail(at.TimeoutError, "", ErrTimeout)
			}
			return fail(at.IOError, "", err)
		}

		s := Step{Index: step, Line: lines[step], Last: step == len(lines)-1}
		d := cmd.Next(s, f)
		lines = append(lines, d.Append...)
		if opts.OnFrame != nil {
			opts.OnFrame(s, f, d)
		}

		switch d.Outcome {
		case UnexpectedReply:
			if opts.OnUnexpected != nil {
				f.Result = at.UnknownModemData
				opts.OnUnexpected(f)
			}
		case Failed:
			err := d.Err
			if err == nil {
				err = f.Err()
			}
			if err == nil {
				err = ErrRejected
			}
			result := d.Result
			if result == at.None {
				result = f.Result
			}
			if result == at.None || result == at.Ok {
				result = at.Error
			}
			return fail(result, f.ErrorText, err)
		case Finished:
			return nil
		case NextCommand:
			if step+1 >= len(lines) {
				return nil
			}
			step++
			if err := conn.Write(ctx, lines[step]); err != nil {
				return fail(at.IOError, "", err)
			}
		}
	}
}

// references reports whether f answers l. Frames carrying the echo of a
// different command line belong to something else; frames without any echo
// are accepted, as they are when echo is off.
func references(l Line, f at.Frame) bool {
	for _, t := range f.Lines() {
		if len(t) < 2 || !strings.EqualFold(t[:2], "AT") {
			continue
		}
		return strings.EqualFold(strings.TrimSpace(t), strings.TrimSpace(l.Command))
	}
	return true
}

func advance(s Step) Decision {
	if s.Last {
		return Decision{Outcome: Finished}
	}
	return Decision{Outcome: NextCommand}
}

// expectOK is the transition for lines answered by a plain final result.
func expectOK(s Step, f at.Frame) Decision {
	if f.Kind != at.KindReply || !references(s.Line, f) {
		return Decision{Outcome: UnexpectedReply}
	}
	if f.Result != at.Ok {
		return Decision{Outcome: Failed}
	}
	return advance(s)
}

// expectPrompt is the transition for lines answered by "> ".
func expectPrompt(s Step, f at.Frame) Decision {
	if !references(s.Line, f) {
		return Decision{Outcome: UnexpectedReply}
	}
	switch {
	case f.Kind == at.KindPrompt:
		return advance(s)
	case f.Result.Failed():
		return Decision{Outcome: Failed}
	}
	return Decision{Outcome: UnexpectedReply}
}
