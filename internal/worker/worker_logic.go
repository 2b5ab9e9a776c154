package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pccr10001/gsmlink/internal/at"
	"github.com/pccr10001/gsmlink/internal/command"
	"github.com/pccr10001/gsmlink/internal/concat"
	"github.com/pccr10001/gsmlink/internal/config"
	"github.com/pccr10001/gsmlink/internal/event"
	"github.com/pccr10001/gsmlink/internal/mccmnc"
	"github.com/pccr10001/gsmlink/internal/pdu"
	"github.com/pccr10001/gsmlink/pkg/logger"
)

// iccidCommands are tried in turn; vendors do not agree on one.
var iccidCommands = []string{"AT+CCID", "AT+QCCID", "AT+ICCID"}

func (w *ModemWorker) initModem(ctx context.Context) error {
	// Probe first so ports without a modem are released quickly.
	if err := w.exec(ctx, command.Probe()); err != nil {
		logger.Log.Warnf("[%s] Probe failed (AT timeout/error): %v. Skipping port.", w.PortName, err)
		return err
	}
	for _, cmd := range []*command.Command{command.EchoOn(), command.VerboseErrors()} {
		if err := w.exec(ctx, cmd); err != nil {
			return err
		}
	}

	pin, state := command.PIN(w.cfg.PIN)
	err := w.exec(ctx, pin)
	w.publish(event.Event{Type: event.PIN, Command: pin.Kind.String(), Success: err == nil, Text: state.State})
	if err != nil {
		if state.Halt {
			w.halted.Store(true)
			logger.Log.Errorf("[%s] SIM not ready (%s), halting: %v", w.PortName, state.State, err)
			return fmt.Errorf("%w: %w", ErrHalted, err)
		}
		return err
	}

	if err := w.exec(ctx, command.Phase2()); err != nil {
		logger.Log.Warnf("[%s] GSM phase 2+ not supported, status reports will not be acknowledged", w.PortName)
	}
	if err := w.exec(ctx, command.Setup()); err != nil {
		return err
	}
	for _, c := range w.cfg.InitATCommands {
		cmd, _ := command.Passthrough(c, "")
		if err := w.exec(ctx, cmd); err != nil {
			logger.Log.Warnf("[%s] Init command %s failed: %v", w.PortName, c, err)
		}
	}

	if w.cfg.Storage != "" {
		if _, err := w.SetMemory(ctx, w.cfg.Storage); err != nil {
			return err
		}
	} else if _, err := w.MemoryStatus(ctx); err != nil {
		logger.Log.Warnf("[%s] Failed to query memory: %v", w.PortName, err)
	}

	infoCmd, info := command.QueryModemInfo()
	if err := w.exec(ctx, infoCmd); err != nil {
		return err
	}
	for _, c := range iccidCommands {
		cmd, iccid := command.QueryICCID(c)
		if w.exec(ctx, cmd) == nil && *iccid != "" {
			info.ICCID = strings.ToUpper(*iccid)
			break
		}
	}
	if info.ICCID != "" && w.claim != nil && !w.claim(w.PortName, info.ICCID) {
		logger.Log.Warnf("[%s] ICCID %s is already managed by another worker. Stopping duplicate.", w.PortName, info.ICCID)
		return fmt.Errorf("%w: %s", ErrDuplicate, info.ICCID)
	}

	w.mu.Lock()
	w.info = *info
	w.id = ModemID(info.Manufacturer, info.Model, w.PortName)
	w.mu.Unlock()
	logger.Log.Infof("[%s] Found %s %s, ICCID: %s", w.PortName, info.Manufacturer, info.Model, info.ICCID)

	if _, err := w.NetworkStatus(ctx); err != nil {
		logger.Log.Warnf("[%s] Failed to query network: %v", w.PortName, err)
	}

	if w.cfg.CallForwarding.Enabled {
		if err := w.SetCallForwarding(ctx, w.cfg.CallForwarding.Number); err != nil {
			logger.Log.Warnf("[%s] Failed to set call forwarding: %v", w.PortName, err)
		}
	}

	w.publish(event.Event{Type: event.ConfigStatus, Success: true, Text: "initialized"})
	logger.Log.Infof("Modem registered: %s (%s)", w.ID(), w.PortName)
	return nil
}

// context returns a context cancelled when the worker stops.
func (w *ModemWorker) context() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-w.stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (w *ModemWorker) logicLoop() {
	ctx, cancel := w.context()
	defer cancel()

	logger.Log.Infof("[%s] Starting polling loop with interval %v", w.PortName, w.at.PollInterval)

	// Messages that arrived while nobody listened.
	w.readNew(ctx)

	ticker := time.NewTicker(w.at.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case job := <-w.oob:
			w.runOOB(ctx, job)
		case <-w.trigger:
			// Immediate read triggered by URC
			w.readNew(ctx)
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *ModemWorker) poll(ctx context.Context) {
	if w.Busy() {
		// Skip polling if busy with a manual command
		return
	}
	if _, err := w.NetworkStatus(ctx); err != nil {
		logger.Log.Errorf("[%s] Failed network status: %v", w.PortName, err)
	}
	w.readNew(ctx)
}

func (w *ModemWorker) runOOB(ctx context.Context, job oobJob) {
	if job.done != nil {
		defer job.done()
	}
	if job.cmd != nil {
		if err := w.exec(ctx, job.cmd); err != nil {
			logger.Log.Warnf("[%s] %s failed: %v", w.PortName, job.cmd.Label, err)
		}
	}
	if job.frame.Text != "" {
		w.deliver(ctx, job.frame)
	}
}

// deliver handles a message or status report routed directly to the
// terminal instead of being stored.
func (w *ModemWorker) deliver(ctx context.Context, f at.Frame) {
	lines := f.Lines()
	if len(lines) < 2 {
		return
	}
	m, err := pdu.Decode(lines[1])
	if err != nil {
		logger.Log.Warnf("[%s] Failed to decode routed PDU: %v", w.PortName, err)
		w.unknown(f)
		return
	}
	frag := &concat.Fragment{Message: m, ReceivedAt: time.Now(), Deleted: true, Parts: 1}
	if m.Type == pdu.TypeStatusReport {
		w.publish(event.Event{Type: event.StatusReport, Success: m.Delivered(), Message: frag, Text: m.Address.String()})
		return
	}

	if err := w.readingSMS.acquire(ctx, w.at.LockTimeout); err != nil {
		logger.Log.Warnf("[%s] Dropping routed message: %v", w.PortName, err)
		return
	}
	complete, _ := w.assembler.Sort([]*concat.Fragment{frag})
	w.readingSMS.release()
	for _, c := range complete {
		w.publishMessage(c)
	}
}

func (w *ModemWorker) readNew(ctx context.Context) {
	status := command.Unread
	if w.cfg.DeleteOnRead {
		status = command.All
	}
	if _, err := w.ReadSMS(ctx, status); err != nil && !errors.Is(err, ErrStopped) {
		logger.Log.Errorf("[%s] Failed to read SMS: %v", w.PortName, err)
	}
}

func (w *ModemWorker) publishMessage(f *concat.Fragment) {
	logger.Log.Infof("[%s] SMS From %s: %s", w.PortName, f.Message.Address, f.Message.Text)
	w.publish(event.Event{Type: event.NewSMS, Success: true, Message: f, Text: f.Message.Text})
}

// SendRequest is a message to submit.
type SendRequest struct {
	Number       string `json:"number" binding:"required"`
	Text         string `json:"text" binding:"required"`
	Encoding     string `json:"encoding"` // 7bit, 8bit, ucs2; auto or empty picks by content
	StatusReport bool   `json:"status_report"`
}

// SendResult reports the submitted parts.
type SendResult struct {
	Encoding   string   `json:"encoding"`
	Parts      int      `json:"parts"`
	References []int    `json:"references"`
	PDUs       []string `json:"pdus"`
}

// SendSMS encodes and submits a message, split into parts when needed.
func (w *ModemWorker) SendSMS(ctx context.Context, req SendRequest) (*SendResult, error) {
	name := req.Encoding
	if name == "" {
		name = w.sms.Encoding
	}
	enc := pdu.EncodingFor(req.Text)
	if name != "" && name != "auto" {
		var err error
		if enc, err = pdu.ParseEncoding(name); err != nil {
			return nil, err
		}
	}
	pdus, err := pdu.Encode(req.Number, req.Text, enc, w.sms.Validity, req.StatusReport || w.sms.StatusReport)
	if err != nil {
		return nil, err
	}

	if err := w.sendingSMS.acquire(ctx, w.at.LockTimeout); err != nil {
		return nil, err
	}
	defer w.sendingSMS.release()

	cmd, r := command.SendSMS(pdus)
	err = w.exec(ctx, cmd)
	res := &SendResult{Encoding: enc.String(), Parts: len(pdus), References: r.References, PDUs: pdus}
	if err != nil {
		return res, err
	}
	logger.Log.Infof("[%s] SMS to %s sent in %d part(s)", w.PortName, req.Number, len(pdus))
	return res, nil
}

// ReadSMS lists stored messages with the given status, publishing complete
// messages and status reports.
func (w *ModemWorker) ReadSMS(ctx context.Context, status command.ListStatus) (*command.ReadResult, error) {
	if err := w.readingSMS.acquire(ctx, w.at.LockTimeout); err != nil {
		return nil, err
	}
	defer w.readingSMS.release()

	cmd, r := command.ReadSMS(command.ReadOptions{
		Status:       status,
		Storage:      w.storage(),
		DeleteOnRead: w.cfg.DeleteOnRead,
		Assembler:    w.assembler,
	})
	err := w.exec(ctx, cmd)

	for _, m := range r.Messages {
		w.publishMessage(m)
	}
	for _, s := range r.StatusReports {
		w.publish(event.Event{Type: event.StatusReport, Success: s.Message.Delivered(), Message: s, Text: s.Message.Address.String()})
	}
	for _, e := range r.Expired {
		logger.Log.Warnf("[%s] Dropping incomplete message from %s, slots %v", w.PortName, e.Message.Address, e.Slots)
	}
	return r, err
}

func (w *ModemWorker) storage() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.memory.Read.Storage != "" {
		return w.memory.Read.Storage
	}
	return w.cfg.Storage
}

// NetworkStatus queries registration, operator and signal.
func (w *ModemWorker) NetworkStatus(ctx context.Context) (command.NetworkStatus, error) {
	cmd, r := command.QueryNetworkStatus()
	if err := w.exec(ctx, cmd); err != nil {
		return command.NetworkStatus{}, err
	}
	r.OperatorName = mccmnc.Name(r.Operator)

	w.mu.Lock()
	changed := w.network != *r
	w.network = *r
	w.mu.Unlock()
	if changed {
		w.publish(event.Event{Type: event.Network, Success: r.Registration.Registered(), Text: fmt.Sprintf("%s, operator %s, signal %d%%", r.State, r.Operator, r.Signal)})
	}
	return *r, nil
}

// MemoryStatus queries the message storage usage.
func (w *ModemWorker) MemoryStatus(ctx context.Context) (command.MemoryStatus, error) {
	cmd, r := command.QueryMemory()
	if err := w.exec(ctx, cmd); err != nil {
		return command.MemoryStatus{}, err
	}
	w.mu.Lock()
	w.memory = *r
	w.mu.Unlock()
	return *r, nil
}

// SetMemory selects the storage used for reading, writing and receiving.
func (w *ModemWorker) SetMemory(ctx context.Context, storage string) (command.MemoryStatus, error) {
	cmd, r := command.SetMemory(strings.ToUpper(storage))
	err := w.exec(ctx, cmd)
	w.publish(event.Event{Type: event.ConfigStatus, Command: cmd.Kind.String(), Success: err == nil, Text: storage})
	if err != nil {
		return command.MemoryStatus{}, err
	}
	w.mu.Lock()
	w.memory = *r
	w.mu.Unlock()
	return *r, nil
}

// Passthrough sends cmd as is and returns the raw reply.
func (w *ModemWorker) Passthrough(ctx context.Context, cmd, terminator string) (at.Frame, error) {
	c, r := command.Passthrough(cmd, terminator)
	err := w.exec(ctx, c)
	return r.Frame, err
}

// Restart reboots the modem. The worker stops afterwards; a new session has
// to be started once the modem is back.
func (w *ModemWorker) Restart(ctx context.Context) error {
	err := w.exec(ctx, command.Restart())
	w.Stop()
	return err
}

// ForceError runs a command that always fails.
func (w *ModemWorker) ForceError(ctx context.Context) error {
	return w.exec(ctx, command.ForceError())
}

func (w *ModemWorker) DisconnectCall(ctx context.Context) error {
	err := w.exec(ctx, command.DisconnectCall())
	if err == nil {
		w.setCallState(CallIdle, "")
	}
	return err
}

// SetCallForwarding forwards every call to number, or stops forwarding when
// number is empty.
func (w *ModemWorker) SetCallForwarding(ctx context.Context, number string) error {
	cmd := command.CallForwarding(number)
	err := w.exec(ctx, cmd)
	w.publish(event.Event{Type: event.ConfigStatus, Command: cmd.Kind.String(), Success: err == nil, Text: cmd.Label})
	return err
}

// Info is a snapshot of the session.
type Info struct {
	ID               string                `json:"id"`
	Port             string                `json:"port"`
	State            string                `json:"state"`
	Halted           bool                  `json:"halted"`
	LastError        string                `json:"last_error,omitempty"`
	Modem            command.ModemInfo     `json:"modem"`
	Network          command.NetworkStatus `json:"network"`
	Memory           command.MemoryStatus  `json:"memory"`
	Call             CallState             `json:"call"`
	PendingFragments int                   `json:"pending_fragments"`
	Config           config.ModemConfig    `json:"config"`
}

func (w *ModemWorker) Info() Info {
	cfg := w.cfg
	cfg.PIN = ""
	pending := len(w.assembler.Pending())

	w.mu.RLock()
	defer w.mu.RUnlock()
	id := w.id
	if id == "" {
		id = w.PortName
	}
	return Info{
		ID:               id,
		Port:             w.PortName,
		State:            w.state,
		Halted:           w.halted.Load(),
		LastError:        w.lastErr,
		Modem:            w.info,
		Network:          w.network,
		Memory:           w.memory,
		Call:             w.call,
		PendingFragments: pending,
		Config:           cfg,
	}
}
