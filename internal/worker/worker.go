package worker

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pccr10001/gsmlink/internal/at"
	"github.com/pccr10001/gsmlink/internal/command"
	"github.com/pccr10001/gsmlink/internal/concat"
	"github.com/pccr10001/gsmlink/internal/config"
	"github.com/pccr10001/gsmlink/internal/event"
	"github.com/pccr10001/gsmlink/pkg/logger"
)

const (
	StateInitializing = "initializing"
	StateOnline       = "online"
	StateHalted       = "halted"
	StateFailed       = "failed"
	StateStopped      = "stopped"
)

// Options configure a ModemWorker.
type Options struct {
	Modem  config.ModemConfig
	AT     config.ATConfig
	SMS    config.SMSConfig
	Dialer Dialer // a SerialDialer for Modem when nil
	Bus    *event.Bus

	// Claim is asked whether the SIM found on this port may be served by
	// it. A nil Claim accepts every SIM.
	Claim func(port, iccid string) bool
}

// ModemWorker is the session with one modem. It owns the transport, frames
// everything the modem sends and runs one command at a time.
type ModemWorker struct {
	PortName string

	cfg    config.ModemConfig
	at     config.ATConfig
	sms    config.SMSConfig
	dialer Dialer
	bus    *event.Bus
	claim  func(port, iccid string) bool

	transport Transport
	framer    *at.Framer
	replies   *frameQueue
	oob       chan oobJob
	trigger   chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once

	halted      atomic.Bool
	callPending atomic.Bool

	writing    *signal
	reading    *signal
	executing  *signal
	sendingSMS *signal
	readingSMS *signal

	assembler *concat.Assembler

	mu      sync.RWMutex
	id      string
	state   string
	lastErr string
	info    command.ModemInfo
	network command.NetworkStatus
	memory  command.MemoryStatus
	call    CallState
}

// oobJob is work queued by unsolicited results, served between commands.
type oobJob struct {
	cmd   *command.Command
	frame at.Frame // PDU carried by +CMT or +CDS, if any
	done  func()
}

func NewModemWorker(opts Options) *ModemWorker {
	c := opts.AT
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = 10 * time.Second
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = 30 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	s := opts.SMS
	if s.MaxFragmentAge <= 0 {
		s.MaxFragmentAge = 24 * time.Hour
	}
	d := opts.Dialer
	if d == nil {
		d = SerialDialer{Config: opts.Modem}
	}

	w := &ModemWorker{
		PortName:   opts.Modem.Port,
		cfg:        opts.Modem,
		at:         c,
		sms:        s,
		dialer:     d,
		bus:        opts.Bus,
		claim:      opts.Claim,
		replies:    newFrameQueue(),
		oob:        make(chan oobJob, 16),
		trigger:    make(chan struct{}, 1),
		stop:       make(chan struct{}),
		writing:    newSignal("writing"),
		reading:    newSignal("reading"),
		executing:  newSignal("executing command"),
		sendingSMS: newSignal("sending SMS"),
		readingSMS: newSignal("reading SMS"),
		assembler:  concat.NewAssembler(s.MaxFragmentAge),
		state:      StateInitializing,
		call:       CallState{State: CallIdle},
	}
	w.framer = at.NewFramer(w.dispatch)
	return w
}

// Start opens the transport, initializes the modem and starts the logic
// loop. A worker whose SIM could not be unlocked stays registered but halted:
// Start returns an error wrapping ErrHalted and every operation fails.
func (w *ModemWorker) Start(ctx context.Context) error {
	logger.Log.Infof("Worker for %s running", w.PortName)

	t, err := w.dialer.Dial(ctx)
	if err != nil {
		logger.Log.Errorf("Failed to open port %s: %v", w.PortName, err)
		w.fail(err)
		w.publish(event.Event{Type: event.Comms, Text: err.Error()})
		return err
	}
	w.mu.Lock()
	w.transport = t
	w.mu.Unlock()
	w.publish(event.Event{Type: event.Comms, Success: true, Text: "port opened"})

	go w.readLoop()

	if err := w.initModem(ctx); err != nil {
		if w.halted.Load() {
			w.setState(StateHalted, err)
			return err
		}
		w.fail(err)
		w.Stop()
		return err
	}

	w.setState(StateOnline, nil)
	go w.logicLoop()
	return nil
}

// Stop closes the transport and ends every loop. It is safe to call more
// than once.
func (w *ModemWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.mu.Lock()
		if w.transport != nil {
			w.transport.Close()
		}
		if w.state != StateFailed {
			w.state = StateStopped
		}
		w.mu.Unlock()
		w.publish(event.Event{Type: event.Comms, Success: true, Text: "stopped"})
		logger.Log.Infof("Worker for %s stopped", w.PortName)
	})
}

// Done is closed once the worker has stopped.
func (w *ModemWorker) Done() <-chan struct{} {
	return w.stop
}

func (w *ModemWorker) readLoop() {
	buf := make([]byte, 1024)
	for {
		select {
		case <-w.stop:
			return
		default:
		}

		n, err := w.transport.Read(buf)
		if n > 0 {
			data := buf[:n]
			if aerr := w.reading.acquire(context.Background(), w.at.LockTimeout); aerr != nil {
				logger.Log.Warnf("[%s] Dropping %d bytes: %v", w.PortName, n, aerr)
			} else {
				w.framer.Write(data)
				w.reading.release()
			}
		}
		if err != nil {
			select {
			case <-w.stop:
				return
			default:
			}
			logger.Log.Errorf("[%s] Port read error: %v. Stopping.", w.PortName, err)
			w.fail(err)
			w.publish(event.Event{Type: event.Comms, Text: err.Error()})
			w.Stop()
			return
		}
	}
}

// dispatch routes a frame from the framer. It runs on the read loop and
// must not block.
func (w *ModemWorker) dispatch(f at.Frame) {
	rx := command.Redact(f.Text)
	logger.Log.Debugf("[%s] RX: %q", w.PortName, rx)
	w.publish(event.Event{Type: event.ReceivedData, Success: true, Text: rx})

	switch f.Kind {
	case at.KindNewMessage:
		if f.Contains("+CMT:") {
			w.enqueue(oobJob{cmd: command.Acknowledge(), frame: f})
			return
		}
		logger.Log.Infof("[%s] URC: %s", w.PortName, f.Text)
		w.triggerRead()
	case at.KindStatusReport:
		if f.Contains("+CDS:") {
			w.enqueue(oobJob{cmd: command.Acknowledge(), frame: f})
			return
		}
		logger.Log.Infof("[%s] URC: %s", w.PortName, f.Text)
		w.triggerRead()
	case at.KindIncomingCall:
		w.incomingCall(f)
	default:
		w.replies.push(f)
	}
}

func (w *ModemWorker) enqueue(job oobJob) {
	select {
	case w.oob <- job:
	default:
		logger.Log.Warnf("[%s] Out-of-band queue full, dropping %s", w.PortName, job.cmd.Label)
		if job.done != nil {
			job.done()
		}
	}
}

func (w *ModemWorker) triggerRead() {
	select {
	case w.trigger <- struct{}{}:
		logger.Log.Debugf("[%s] Triggered immediate SMS scan", w.PortName)
	default:
		// Already triggered
	}
}

// Write sends one command line. Together with Next it lets the command
// engine drive the session.
func (w *ModemWorker) Write(ctx context.Context, l command.Line) error {
	if err := w.writing.acquire(ctx, w.at.LockTimeout); err != nil {
		return err
	}
	defer w.writing.release()

	if w.at.WriteDelay > 0 {
		t := time.NewTimer(w.at.WriteDelay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-w.stop:
			t.Stop()
			return ErrStopped
		}
	}
	select {
	case <-w.stop:
		return ErrStopped
	default:
	}

	data := l.Command + l.Terminator
	shown := data
	if l.Display != "" {
		shown = l.Display + l.Terminator
	}
	logger.Log.Debugf("[%s] TX: %q", w.PortName, shown)
	if _, err := w.transport.Write([]byte(data)); err != nil {
		return err
	}
	w.publish(event.Event{Type: event.WriteData, Success: true, Text: shown})
	return nil
}

// Next returns the next reply or prompt frame.
func (w *ModemWorker) Next(ctx context.Context) (at.Frame, error) {
	return w.replies.pop(ctx, w.stop)
}

// exec runs one command. Frames left over from earlier exchanges are handed
// to the unknown-data sink first.
func (w *ModemWorker) exec(ctx context.Context, cmd *command.Command) error {
	if w.halted.Load() {
		return ErrHalted
	}
	select {
	case <-w.stop:
		return ErrStopped
	default:
	}
	if err := w.executing.acquire(ctx, w.at.LockTimeout); err != nil {
		return err
	}
	defer w.executing.release()

	for _, f := range w.replies.drain() {
		w.unknown(f)
	}

	err := command.Run(ctx, w, cmd, command.Options{
		Timeout:      w.at.ReplyTimeout,
		OnUnexpected: w.unknown,
	})
	e := event.Event{Type: event.ATCommand, Command: cmd.Kind.String(), Success: err == nil, Text: cmd.Label}
	if err != nil {
		e.Text = err.Error()
		var cerr *command.Error
		if errors.As(err, &cerr) {
			e.Result = cerr.Result.String()
		}
		logger.Log.Warnf("[%s] %v", w.PortName, err)
		w.mu.Lock()
		w.lastErr = err.Error()
		w.mu.Unlock()
	}
	w.publish(e)
	return err
}

// unknown is the sink for frames no command asked for.
func (w *ModemWorker) unknown(f at.Frame) {
	f.Result = at.UnknownModemData
	text := command.Redact(f.Text)
	logger.Log.Debugf("[%s] Unexpected data: %q", w.PortName, text)
	w.publish(event.Event{Type: event.UnknownData, Text: text, Result: f.Result.String()})
}

func (w *ModemWorker) publish(e event.Event) {
	if w.bus == nil {
		return
	}
	e.ModemID = w.ID()
	e.Port = w.PortName
	w.bus.Publish(e)
}

func (w *ModemWorker) setState(state string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = state
	if err != nil {
		w.lastErr = err.Error()
	}
}

func (w *ModemWorker) fail(err error) {
	w.setState(StateFailed, err)
}

// ID is the modem id, or the port name until the modem has been
// identified.
func (w *ModemWorker) ID() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.id == "" {
		return w.PortName
	}
	return w.id
}

// State is one of the State constants.
func (w *ModemWorker) State() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Halted reports whether a SIM failure stopped the session.
func (w *ModemWorker) Halted() bool {
	return w.halted.Load()
}

// Config returns the modem record the worker was started with.
func (w *ModemWorker) Config() config.ModemConfig {
	return w.cfg
}

// Busy reports whether a command is running.
func (w *ModemWorker) Busy() bool {
	return len(w.executing.ch) > 0
}

var idUnsafe = regexp.MustCompile(`[^A-Za-z0-9_.]+`)

// ModemID derives the id of a modem from its manufacturer, model and port.
func ModemID(manufacturer, model, port string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{manufacturer, model, port} {
		p = strings.Trim(idUnsafe.ReplaceAllString(p, "-"), "-")
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "-")
}
