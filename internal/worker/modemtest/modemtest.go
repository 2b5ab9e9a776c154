// Package modemtest provides a scripted modem that answers AT commands over
// an in-memory transport.
package modemtest

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// HelloSubmit is the PDU the session writes for "hello" to +1234567890
// with message reference 0.
const HelloSubmit = "0001000A91214365870900000AE8329BFD4697D9EC37"

// OK renders an information response followed by OK, as sent after the
// echo of a command.
func OK(lines ...string) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString("\r\n" + l + "\r\n")
	}
	b.WriteString("\r\nOK\r\n")
	return b.String()
}

// DefaultReplies answers the initialization of a Quectel EC25 with a ready
// SIM registered at home.
var DefaultReplies = map[string]string{
	"AT":                          OK(),
	"ATE1":                        OK(),
	"AT+CMEE=2":                   OK(),
	"AT+CPIN?":                    OK("+CPIN: READY"),
	"AT+CSMS=1":                   OK("+CSMS: 1,1,1"),
	"AT+CMGF=0":                   OK(),
	"AT+CNMI=2,1,0,2,0":           OK(),
	`AT+CPMS="SM","SM","SM"`:      OK("+CPMS: 0,30,0,30,0,30"),
	"AT+CPMS?":                    OK(`+CPMS: "SM",0,30,"SM",0,30,"SM",0,30`),
	"AT+CGMI":                     OK("Quectel"),
	"AT+CGMM":                     OK("EC25"),
	"AT+CGMR":                     OK("EC25EFAR06A06M4G"),
	"AT+CGSN":                     OK("867962040000000"),
	"AT+CIMI":                     OK("466920000000000"),
	"AT+CCID":                     OK("+CCID: 89886920000000000001F"),
	"AT+CREG?":                    OK("+CREG: 0,1"),
	"AT+COPS=3,2":                 OK(),
	"AT+COPS?":                    OK(`+COPS: 0,2,"46692",7`),
	"AT+CSQ":                      OK("+CSQ: 20,99"),
	"AT+CNMA":                     OK(),
	"ATH":                         OK(),
	"AT+CFUN=1,1":                 OK(),
	"AT+CMGS=21":                  "\r\n> ",
	HelloSubmit:                   OK("+CMGS: 7"),
	`AT+CCFC=0,3,"+15550100",145`: OK(),
}

// Modem answers written commands from a reply table, after echoing them.
// Messages put in storage are listed by AT+CMGL and removed by AT+CMGD.
// Unknown commands get ERROR.
type Modem struct {
	mu        sync.Mutex
	replies   map[string]string
	stored    map[int]string
	written   []string
	pending   []byte
	rx        chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func New() *Modem {
	return &Modem{
		replies: maps.Clone(DefaultReplies),
		stored:  make(map[int]string),
		rx:      make(chan []byte, 256),
		closed:  make(chan struct{}),
	}
}

func (m *Modem) Write(p []byte) (int, error) {
	select {
	case <-m.closed:
		return 0, io.ErrClosedPipe
	default:
	}
	cmd := strings.TrimRight(string(p), "\r\n\x1a")

	m.mu.Lock()
	m.written = append(m.written, cmd)
	reply := m.answer(cmd)
	m.mu.Unlock()

	m.Send(cmd + "\r" + reply)
	return len(p), nil
}

func (m *Modem) answer(cmd string) string {
	switch {
	case strings.HasPrefix(cmd, "AT+CMGL="):
		var b strings.Builder
		for _, slot := range slices.Sorted(maps.Keys(m.stored)) {
			p := m.stored[slot]
			fmt.Fprintf(&b, "\r\n+CMGL: %d,0,,%d\r\n%s", slot, len(p)/2-1, p)
		}
		b.WriteString("\r\n\r\nOK\r\n")
		return b.String()
	case strings.HasPrefix(cmd, "AT+CMGD="):
		slot, _ := strconv.Atoi(strings.TrimPrefix(cmd, "AT+CMGD="))
		delete(m.stored, slot)
		return OK()
	}
	if r, found := m.replies[cmd]; found {
		return r
	}
	return "\r\nERROR\r\n"
}

// Send delivers unsolicited bytes to the reader.
func (m *Modem) Send(s string) {
	select {
	case m.rx <- []byte(s):
	case <-m.closed:
	}
}

func (m *Modem) Read(p []byte) (int, error) {
	m.mu.Lock()
	if len(m.pending) > 0 {
		n := copy(p, m.pending)
		m.pending = m.pending[n:]
		m.mu.Unlock()
		return n, nil
	}
	m.mu.Unlock()

	select {
	case b := <-m.rx:
		n := copy(p, b)
		if n < len(b) {
			m.mu.Lock()
			m.pending = append(m.pending, b[n:]...)
			m.mu.Unlock()
		}
		return n, nil
	case <-m.closed:
		return 0, io.EOF
	}
}

func (m *Modem) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

// Set replaces the reply to cmd.
func (m *Modem) Set(cmd, reply string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[cmd] = reply
}

// Store puts a PDU in storage at slot.
func (m *Modem) Store(slot int, pdu string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored[slot] = pdu
}

func (m *Modem) StoredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stored)
}

// Commands returns the written commands in order.
func (m *Modem) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.written)
}

func (m *Modem) Wrote(cmd string) bool {
	return slices.Contains(m.Commands(), cmd)
}
