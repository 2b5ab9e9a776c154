package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/pccr10001/gsmlink/internal/at"
)

// ModemInfo identifies the modem and its subscriber.
type ModemInfo struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Revision     string `json:"revision"`
	IMEI         string `json:"imei"`
	IMSI         string `json:"imsi"`
	ICCID        string `json:"iccid"`
}

// QueryModemInfo reads manufacturer, model, revision, IMEI and IMSI.
func QueryModemInfo() (*Command, *ModemInfo) {
	r := &ModemInfo{}
	targets := []*string{&r.Manufacturer, &r.Model, &r.Revision, &r.IMEI, &r.IMSI}
	cmd := simple(KindModemInfo, "Modem info", "AT+CGMI", "AT+CGMM", "AT+CGMR", "AT+CGSN", "AT+CIMI")
	cmd.Next = func(s Step, f at.Frame) Decision {
		d := expectOK(s, f)
		if d.Outcome == NextCommand || d.Outcome == Finished {
			*targets[s.Index] = infoValue(f)
		}
		return d
	}
	return cmd, r
}

// QueryICCID reads the SIM serial with the given command. Vendors differ:
// AT+CCID, AT+QCCID and AT+ICCID are all in use.
func QueryICCID(cmd string) (*Command, *string) {
	var iccid string
	c := simple(KindICCID, "ICCID", cmd)
	c.Next = func(s Step, f at.Frame) Decision {
		d := expectOK(s, f)
		if d.Outcome == Finished {
			iccid = strings.TrimRight(infoValue(f), "F")
		}
		return d
	}
	return c, &iccid
}

// infoValue returns the information line of a reply: the first line that is
// neither an echo nor the final result, without any "+XXX:" prefix.
func infoValue(f at.Frame) string {
	for _, l := range f.Lines() {
		if l == "OK" || strings.HasPrefix(strings.ToUpper(l), "AT") {
			continue
		}
		if strings.HasPrefix(l, "+") {
			if _, v, ok := strings.Cut(l, ":"); ok {
				l = v
			}
		}
		return strings.Trim(strings.TrimSpace(l), `"`)
	}
	return ""
}

// Memory is the usage of one message storage.
type Memory struct {
	Storage string `json:"storage"`
	Used    int    `json:"used"`
	Total   int    `json:"total"`
}

// MemoryStatus is the reply of AT+CPMS: storages used for reading and
// deleting, for writing and sending, and for received messages.
type MemoryStatus struct {
	Read    Memory `json:"read"`
	Write   Memory `json:"write"`
	Receive Memory `json:"receive"`
}

// QueryMemory reads the preferred message storage configuration.
func QueryMemory() (*Command, *MemoryStatus) {
	r := &MemoryStatus{}
	cmd := simple(KindMemoryConfig, "Memory configuration", "AT+CPMS?")
	cmd.Next = func(s Step, f at.Frame) Decision {
		d := expectOK(s, f)
		if d.Outcome != Finished {
			return d
		}
		v, ok := f.Value("+CPMS:")
		if !ok {
			return parseFailed(errors.New("no +CPMS in reply"))
		}
		if err := parseMemory(v, true, r); err != nil {
			return parseFailed(err)
		}
		return d
	}
	return cmd, r
}

// SetMemory selects storage for reading, writing and receiving.
func SetMemory(storage string) (*Command, *MemoryStatus) {
	r := &MemoryStatus{}
	cmd := simple(KindSetMemory, "Set memory", fmt.Sprintf(`AT+CPMS="%s","%s","%s"`, storage, storage, storage))
	cmd.Next = func(s Step, f at.Frame) Decision {
		d := expectOK(s, f)
		if d.Outcome != Finished {
			return d
		}
		if v, ok := f.Value("+CPMS:"); ok {
			if err := parseMemory(v, false, r); err != nil {
				return parseFailed(err)
			}
		}
		r.Read.Storage, r.Write.Storage, r.Receive.Storage = storage, storage, storage
		return d
	}
	return cmd, r
}

// parseMemory parses `"SM",3,30,"SM",3,30,"SM",3,30` or, without names,
// `3,30,3,30,3,30`.
func parseMemory(v string, named bool, r *MemoryStatus) error {
	fields := strings.Split(v, ",")
	width := 2
	if named {
		width = 3
	}
	mems := []*Memory{&r.Read, &r.Write, &r.Receive}
	for i, m := range mems {
		if len(fields) < (i+1)*width {
			if i == 0 {
				return fmt.Errorf("short +CPMS reply %q", v)
			}
			break
		}
		f := fields[i*width : (i+1)*width]
		if named {
			m.Storage = strings.Trim(strings.TrimSpace(f[0]), `"`)
			f = f[1:]
		}
		var err error
		if m.Used, err = strconv.Atoi(strings.TrimSpace(f[0])); err != nil {
			return fmt.Errorf("bad +CPMS reply %q: %w", v, err)
		}
		if m.Total, err = strconv.Atoi(strings.TrimSpace(f[1])); err != nil {
			return fmt.Errorf("bad +CPMS reply %q: %w", v, err)
		}
	}
	return nil
}

// Registration is the +CREG network registration state.
type Registration int

const (
	NotRegistered Registration = 0
	Home          Registration = 1
	Searching     Registration = 2
	Denied        Registration = 3
	Unknown       Registration = 4
	Roaming       Registration = 5
)

func (r Registration) String() string {
	switch r {
	case NotRegistered:
		return "not registered"
	case Home:
		return "registered (home)"
	case Searching:
		return "searching"
	case Denied:
		return "registration denied"
	case Roaming:
		return "registered (roaming)"
	}
	return "unknown"
}

// Registered reports whether the modem is attached to a network.
func (r Registration) Registered() bool {
	return r == Home || r == Roaming
}

// NetworkStatus collects registration, operator and signal quality.
type NetworkStatus struct {
	Registration Registration `json:"registration"`
	State        string       `json:"state"`
	Operator     string       `json:"operator"` // numeric MCC+MNC
	OperatorName string       `json:"operator_name"`
	AccessTech   int          `json:"access_tech"`
	RSSI         int          `json:"rssi"`
	Signal       int          `json:"signal"` // percent
}

// QueryNetworkStatus asks for registration, the operator in numeric format
// and the signal quality.
func QueryNetworkStatus() (*Command, *NetworkStatus) {
	r := &NetworkStatus{Registration: Unknown, RSSI: 99, AccessTech: -1}
	cmd := simple(KindNetworkStatus, "Network status", "AT+CREG?", "AT+COPS=3,2", "AT+COPS?", "AT+CSQ")
	cmd.Next = func(s Step, f at.Frame) Decision {
		d := expectOK(s, f)
		if d.Outcome != NextCommand && d.Outcome != Finished {
			return d
		}
		switch s.Line.Command {
		case "AT+CREG?":
			if v, ok := f.Value("+CREG:"); ok {
				fields := strings.Split(v, ",")
				if len(fields) > 1 {
					n, _ := strconv.Atoi(strings.TrimSpace(fields[1]))
					r.Registration = Registration(n)
				}
			}
			r.State = r.Registration.String()
		case "AT+COPS?":
			if v, ok := f.Value("+COPS:"); ok {
				fields := strings.Split(v, ",")
				if len(fields) > 2 {
					r.Operator = strings.Trim(strings.TrimSpace(fields[2]), `"`)
				}
				if len(fields) > 3 {
					r.AccessTech, _ = strconv.Atoi(strings.TrimSpace(fields[3]))
				}
			}
		case "AT+CSQ":
			if v, ok := f.Value("+CSQ:"); ok {
				rssi, _, _ := strings.Cut(v, ",")
				if n, err := strconv.Atoi(strings.TrimSpace(rssi)); err == nil {
					r.RSSI = n
				}
			}
			r.Signal = SignalPercent(r.RSSI)
		}
		return d
	}
	return cmd, r
}

// SignalPercent converts a +CSQ rssi (0-31, 99 unknown) into a percentage.
func SignalPercent(rssi int) int {
	if rssi < 0 || rssi > 31 {
		return 0
	}
	return int(float64(rssi) / 31.0 * 100.0)
}
