package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pccr10001/gsmlink/internal/at"
	"github.com/pccr10001/gsmlink/internal/concat"
	"github.com/pccr10001/gsmlink/internal/pdu"
	"github.com/pccr10001/gsmlink/pkg/logger"
)

// Kind identifies a command type.
type Kind int

const (
	KindPIN Kind = iota
	KindSendSMS
	KindReadSMS
	KindModemInfo
	KindICCID
	KindMemoryConfig
	KindSetMemory
	KindNetworkStatus
	KindEchoOn
	KindVerboseErrors
	KindPhase2
	KindSetup
	KindRestart
	KindPassthrough
	KindDisconnectCall
	KindAcknowledge
	KindCallForwarding
	KindForceError
	KindProbe
)

var kindNames = [...]string{
	KindPIN:            "pin",
	KindSendSMS:        "send_sms",
	KindReadSMS:        "read_sms",
	KindModemInfo:      "modem_info",
	KindICCID:          "iccid",
	KindMemoryConfig:   "memory_config",
	KindSetMemory:      "set_memory",
	KindNetworkStatus:  "network_status",
	KindEchoOn:         "echo_on",
	KindVerboseErrors:  "verbose_errors",
	KindPhase2:         "phase2",
	KindSetup:          "setup",
	KindRestart:        "restart",
	KindPassthrough:    "passthrough",
	KindDisconnectCall: "disconnect_call",
	KindAcknowledge:    "acknowledge",
	KindCallForwarding: "call_forwarding",
	KindForceError:     "force_error",
	KindProbe:          "probe",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

var (
	ErrPINRequired = errors.New("SIM PIN required but none configured")
	ErrSIMLocked   = errors.New("SIM locked")
	ErrForced      = errors.New("forced error")
)

// simple builds a command whose lines are all answered by OK.
func simple(kind Kind, label string, cmds ...string) *Command {
	lines := make([]Line, len(cmds))
	for i, c := range cmds {
		lines[i] = line(c)
	}
	return &Command{Kind: kind, Label: label, Lines: lines, Next: expectOK}
}

// Probe checks that something answering AT commands is on the line.
func Probe() *Command {
	return simple(KindProbe, "Probe", "AT")
}

func EchoOn() *Command {
	return simple(KindEchoOn, "Echo on", "ATE1")
}

func VerboseErrors() *Command {
	return simple(KindVerboseErrors, "Verbose errors", "AT+CMEE=2")
}

// Phase2 selects GSM phase 2+ messaging so status reports are routed to the
// terminal and acknowledged with AT+CNMA.
func Phase2() *Command {
	return simple(KindPhase2, "GSM phase 2+", "AT+CSMS=1")
}

// Setup switches to PDU mode and asks for +CMTI and +CDSI indications.
func Setup() *Command {
	return simple(KindSetup, "PDU mode", "AT+CMGF=0", "AT+CNMI=2,1,0,2,0")
}

func Restart() *Command {
	return simple(KindRestart, "Restart", "AT+CFUN=1,1")
}

func DisconnectCall() *Command {
	return simple(KindDisconnectCall, "Disconnect call", "ATH")
}

// Acknowledge confirms a message or status report routed directly to the
// terminal with +CMT or +CDS.
func Acknowledge() *Command {
	return simple(KindAcknowledge, "Acknowledge", "AT+CNMA")
}

// CallForwarding registers unconditional forwarding to number, or erases it
// when number is empty.
func CallForwarding(number string) *Command {
	if number == "" {
		return simple(KindCallForwarding, "Call forwarding off", "AT+CCFC=0,4")
	}
	typ := 129
	if strings.HasPrefix(number, "+") {
		typ = 145
	}
	return simple(KindCallForwarding, "Call forwarding on", fmt.Sprintf("AT+CCFC=0,3,\"%s\",%d", number, typ))
}

// ForceError sends a command no modem implements and fails whatever the
// reply. It exists to exercise error reporting end to end.
func ForceError() *Command {
	return &Command{
		Kind:  KindForceError,
		Label: "Force error",
		Lines: []Line{line("AT+ERROR")},
		Next: func(s Step, f at.Frame) Decision {
			if f.Kind != at.KindReply || !references(s.Line, f) {
				return Decision{Outcome: UnexpectedReply}
			}
			if f.Result == at.Ok {
				return Decision{Outcome: Failed, Err: ErrForced}
			}
			return Decision{Outcome: Failed}
		},
	}
}

// PassthroughResult holds the raw reply of a passthrough command.
type PassthroughResult struct {
	Frame at.Frame
}

// Passthrough sends cmd unchanged. A prompt counts as success so the
// caller can follow up with data terminated by Ctrl-Z.
func Passthrough(cmd, terminator string) (*Command, *PassthroughResult) {
	if terminator == "" {
		terminator = CRLF
	}
	r := &PassthroughResult{}
	return &Command{
		Kind:  KindPassthrough,
		Label: "Passthrough",
		Lines: []Line{{Command: cmd, Terminator: terminator}},
		Next: func(s Step, f at.Frame) Decision {
			if f.Kind.Unsolicited() || !references(s.Line, f) {
				return Decision{Outcome: UnexpectedReply}
			}
			r.Frame = f
			if f.Result.Failed() {
				return Decision{Outcome: Failed}
			}
			return Decision{Outcome: Finished}
		},
	}, r
}

// PINResult reports the SIM state. Halt is set when the session must not
// continue, which happens on any failure.
type PINResult struct {
	State string
	Halt  bool
}

// PIN queries the SIM state and enters pin when the SIM asks for it.
func PIN(pin string) (*Command, *PINResult) {
	r := &PINResult{}
	halt := func(d Decision) Decision {
		r.Halt = true
		return d
	}
	next := func(s Step, f at.Frame) Decision {
		d := expectOK(s, f)
		switch {
		case d.Outcome == UnexpectedReply:
			return d
		case d.Outcome == Failed:
			return halt(d)
		case s.Index > 0:
			r.State = "READY"
			return d
		}
		r.State, _ = f.Value("+CPIN:")
		switch r.State {
		case "READY":
			return Decision{Outcome: Finished}
		case "SIM PIN":
			if pin == "" {
				return halt(Decision{Outcome: Failed, Err: ErrPINRequired})
			}
			enter := Line{
				Command:    `AT+CPIN="` + pin + `"`,
				Display:    `AT+CPIN="` + pinMask + `"`,
				Terminator: CRLF,
				Timeout:    20 * time.Second,
			}
			return Decision{Outcome: NextCommand, Append: []Line{enter}}
		}
		return halt(Decision{Outcome: Failed, Err: fmt.Errorf("%w: %s", ErrSIMLocked, r.State)})
	}
	return &Command{Kind: KindPIN, Label: "PIN", Lines: []Line{line("AT+CPIN?")}, Next: next}, r
}

const pinMask = "****"

// Redact masks the PIN of any AT+CPIN="..." line in text, such as the echo
// of a PIN entry read back from the modem.
func Redact(text string) string {
	const key = `+CPIN="`
	var b strings.Builder
	for {
		i := strings.Index(text, key)
		if i < 0 {
			break
		}
		i += len(key)
		b.WriteString(text[:i])
		b.WriteString(pinMask)
		j := strings.IndexByte(text[i:], '"')
		if j < 0 {
			return b.String()
		}
		text = text[i+j:]
	}
	b.WriteString(text)
	return b.String()
}

// SendResult collects the message references of the submitted parts.
type SendResult struct {
	References []int
}

// SendSMS submits each PDU in turn: AT+CMGS with the TPDU length, wait for
// the prompt, then the PDU terminated by Ctrl-Z.
func SendSMS(pdus []string) (*Command, *SendResult) {
	r := &SendResult{}
	lines := make([]Line, 0, 2*len(pdus))
	for _, p := range pdus {
		n := pdu.SubmitLength(p)
		lines = append(lines,
			Line{Command: "AT+CMGS=" + strconv.Itoa(n), Terminator: CRLF, Number: n},
			Line{Command: p, Terminator: CtrlZ, Timeout: 60 * time.Second},
		)
	}
	return &Command{
		Kind:  KindSendSMS,
		Label: "Send SMS",
		Lines: lines,
		Next: func(s Step, f at.Frame) Decision {
			if s.Index%2 == 0 {
				return expectPrompt(s, f)
			}
			d := expectOK(s, f)
			if d.Outcome == NextCommand || d.Outcome == Finished {
				if v, ok := f.Value("+CMGS:"); ok {
					mr, err := strconv.Atoi(v)
					if err != nil {
						return parseFailed(fmt.Errorf("bad +CMGS reply %q", v))
					}
					r.References = append(r.References, mr)
				}
			}
			return d
		},
	}, r
}

// ListStatus selects which stored messages AT+CMGL returns.
type ListStatus int

const (
	Unread ListStatus = 0
	Read   ListStatus = 1
	Unsent ListStatus = 2
	Sent   ListStatus = 3
	All    ListStatus = 4
)

// ParseListStatus accepts the names used in the API and configuration.
func ParseListStatus(s string) (ListStatus, error) {
	switch strings.ToLower(s) {
	case "", "unread":
		return Unread, nil
	case "read":
		return Read, nil
	case "unsent":
		return Unsent, nil
	case "sent":
		return Sent, nil
	case "all":
		return All, nil
	}
	return 0, fmt.Errorf("unknown message status %q", s)
}

// ReadOptions configure ReadSMS.
type ReadOptions struct {
	Status       ListStatus
	Storage      string
	DeleteOnRead bool
	Assembler    *concat.Assembler
	Now          func() time.Time
}

// ReadResult holds what a read produced.
type ReadResult struct {
	Messages      []*concat.Fragment // complete messages
	StatusReports []*concat.Fragment
	Expired       []*concat.Fragment
	Undecodable   []string
	Deleted       []int
}

// ReadSMS lists stored messages, decodes them, reassembles multi-part
// messages and then deletes what was read when asked to. Expired fragments
// are always deleted, and deleted again on later reads until that succeeds.
// Status reports are acknowledged.
func ReadSMS(opts ReadOptions) (*Command, *ReadResult) {
	if opts.Assembler == nil {
		opts.Assembler = concat.NewAssembler(24 * time.Hour)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &ReadResult{}
	// expired fragments keep their tombstone until every slot is deleted
	var retiring []*concat.Fragment

	list := func(s Step, f at.Frame) Decision {
		d := expectOK(s, f)
		if d.Outcome == UnexpectedReply || d.Outcome == Failed {
			return d
		}
		now := opts.Now()
		var fragments []*concat.Fragment
		var appended []Line
		for _, e := range parseList(f) {
			m, err := pdu.Decode(e.pdu)
			if err != nil {
				logger.Log.Warnf("Skipping undecodable PDU at slot %d: %v", e.slot, err)
				r.Undecodable = append(r.Undecodable, e.pdu)
				continue
			}
			frag := &concat.Fragment{Message: m, Storage: opts.Storage, Slots: []int{e.slot}, ReceivedAt: now}
			if m.Type == pdu.TypeStatusReport {
				r.StatusReports = append(r.StatusReports, frag)
				appended = append(appended, line("AT+CNMA"))
				if opts.DeleteOnRead {
					appended = append(appended, deleteLines(frag)...)
				}
				continue
			}
			if opts.Assembler.Expired(frag) {
				retiring = append(retiring, frag)
				appended = append(appended, deleteLines(frag)...)
				continue
			}
			fragments = append(fragments, frag)
		}

		complete, expired := opts.Assembler.Sort(fragments)
		r.Messages = complete
		r.Expired = expired
		if opts.DeleteOnRead {
			for _, p := range fragments {
				appended = append(appended, deleteLines(p)...)
			}
			for _, c := range complete {
				c.Deleted = true
			}
		}
		for _, e := range expired {
			appended = append(appended, deleteLines(e)...)
		}
		retiring = append(retiring, expired...)

		if len(appended) == 0 {
			return Decision{Outcome: Finished}
		}
		return Decision{Outcome: NextCommand, Append: appended}
	}

	return &Command{
		Kind:  KindReadSMS,
		Label: "Read SMS",
		Lines: []Line{{Command: "AT+CMGL=" + strconv.Itoa(int(opts.Status)), Terminator: CRLF, Timeout: 30 * time.Second}},
		Next: func(s Step, f at.Frame) Decision {
			if s.Index == 0 {
				return list(s, f)
			}
			d := expectOK(s, f)
			if d.Outcome != UnexpectedReply && d.Outcome != Failed && strings.HasPrefix(s.Line.Command, "AT+CMGD=") {
				r.Deleted = append(r.Deleted, s.Line.Number)
				opts.Assembler.Forget(retiring, r.Deleted)
			}
			return d
		},
	}, r
}

// deleteLines returns one AT+CMGD per slot of f and marks f deleted, so a
// fragment is never deleted twice.
func deleteLines(f *concat.Fragment) []Line {
	if f.Deleted {
		return nil
	}
	f.Deleted = true
	out := make([]Line, 0, len(f.Slots))
	for _, slot := range f.Slots {
		out = append(out, Line{Command: "AT+CMGD=" + strconv.Itoa(slot), Terminator: CRLF, Number: slot})
	}
	return out
}

type listed struct {
	slot int
	stat int
	pdu  string
}

// parseList reads "+CMGL: <index>,<stat>,[<alpha>],<length>" headers, each
// followed by its PDU line.
func parseList(f at.Frame) []listed {
	lines := f.Lines()
	var out []listed
	for i := 0; i < len(lines); i++ {
		v, ok := strings.CutPrefix(lines[i], "+CMGL:")
		if !ok || i+1 >= len(lines) {
			continue
		}
		fields := strings.Split(strings.TrimSpace(v), ",")
		slot, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			continue
		}
		var stat int
		if len(fields) > 1 {
			stat, _ = strconv.Atoi(strings.TrimSpace(fields[1]))
		}
		i++
		out = append(out, listed{slot: slot, stat: stat, pdu: lines[i]})
	}
	return out
}
