package worker

import (
	"strings"
	"time"

	"github.com/pccr10001/gsmlink/internal/at"
	"github.com/pccr10001/gsmlink/internal/command"
	"github.com/pccr10001/gsmlink/internal/event"
	"github.com/pccr10001/gsmlink/pkg/logger"
)

const (
	CallIdle     = "idle"
	CallRinging  = "ringing"
	CallRejected = "rejected"
)

// CallState tracks the last incoming call.
type CallState struct {
	State     string    `json:"state"`
	Caller    string    `json:"caller,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// incomingCall handles RING, +CRING and +CLIP. Calls are hung up when the
// modem is configured to reject them; only one hang-up is queued at a time.
func (w *ModemWorker) incomingCall(f at.Frame) {
	caller := ""
	if v, ok := f.Value("+CLIP:"); ok {
		first, _, _ := strings.Cut(v, ",")
		caller = strings.Trim(strings.TrimSpace(first), `"`)
	}
	w.setCallState(CallRinging, caller)
	logger.Log.Infof("[%s] Incoming call %s", w.PortName, caller)
	w.publish(event.Event{Type: event.Comms, Success: true, Text: "incoming call " + caller})

	if !w.cfg.RejectCalls || f.Contains("+CLIP:") {
		return
	}
	if !w.callPending.CompareAndSwap(false, true) {
		return
	}
	w.enqueue(oobJob{
		cmd: command.DisconnectCall(),
		done: func() {
			w.callPending.Store(false)
			w.setCallState(CallRejected, "")
		},
	})
}

// setCallState records state. An empty caller keeps the last known one.
func (w *ModemWorker) setCallState(state, caller string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if caller == "" {
		caller = w.call.Caller
	}
	if state == CallIdle {
		caller = ""
	}
	w.call = CallState{State: state, Caller: caller, UpdatedAt: time.Now()}
}
