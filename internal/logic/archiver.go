package logic

import (
	"context"
	"time"

	"github.com/pccr10001/gsmlink/internal/config"
	"github.com/pccr10001/gsmlink/internal/event"
	"github.com/pccr10001/gsmlink/internal/model"
	"github.com/pccr10001/gsmlink/internal/repository"
	"github.com/pccr10001/gsmlink/internal/worker"
	"github.com/pccr10001/gsmlink/pkg/logger"
	"gorm.io/gorm"
)

// Registry finds running modem sessions.
type Registry interface {
	Get(id string) (*worker.ModemWorker, bool)
}

// Archiver stores what the modems report: received messages, delivery
// reports and the modem registry. Received messages are forwarded to
// webhooks.
type Archiver struct {
	sms      *repository.SMSRepository
	modems   *repository.ModemRepository
	webhooks *WebhookService
	registry Registry
}

func NewArchiver(db *gorm.DB, registry Registry, hooks config.WebhookConfig) *Archiver {
	return &Archiver{
		sms:      repository.NewSMSRepository(db),
		modems:   repository.NewModemRepository(db),
		webhooks: NewWebhookService(repository.NewWebhookRepository(db), hooks),
		registry: registry,
	}
}

// Run handles events from bus until ctx ends.
func (a *Archiver) Run(ctx context.Context, bus *event.Bus) {
	events, cancel := bus.Subscribe(256)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.Handle(e)
		}
	}
}

func (a *Archiver) Handle(e event.Event) {
	switch e.Type {
	case event.NewSMS:
		a.received(e)
	case event.StatusReport:
		if e.Message == nil {
			return
		}
		m := e.Message.Message
		if err := a.sms.MarkDelivered(e.ModemID, m.MessageReference, int(m.Status)); err != nil {
			logger.Log.Errorf("Failed to record status report for %s: %v", e.ModemID, err)
		}
	case event.Network, event.ConfigStatus, event.PIN, event.Comms:
		a.register(e.ModemID)
	}
}

func (a *Archiver) received(e event.Event) {
	if e.Message == nil || e.Message.Message == nil {
		return
	}
	m := e.Message.Message
	if dup, err := a.sms.Exists(e.ModemID, m.Raw); err == nil && dup {
		return
	}

	sms := &model.SMS{
		ModemID:   e.ModemID,
		Phone:     m.Address.String(),
		Content:   m.Text,
		Timestamp: m.Timestamp,
		Type:      "received",
		Encoding:  m.DCS.Encoding.String(),
		Parts:     max(e.Message.Parts, 1),
		RawPDU:    m.Raw,
		CreatedAt: time.Now(),
	}
	if sms.Timestamp.IsZero() {
		sms.Timestamp = time.Now()
	}
	if err := a.sms.Create(sms); err != nil {
		logger.Log.Errorf("Failed to archive SMS from %s: %v", sms.Phone, err)
		return
	}

	// Trigger Webhook
	a.webhooks.Dispatch(sms)
}

// RecordSent archives a submitted message. The reference kept is the one of
// the last part, whose status report completes the delivery.
func (a *Archiver) RecordSent(modemID string, req worker.SendRequest, res *worker.SendResult) error {
	sms := &model.SMS{
		ModemID:   modemID,
		Phone:     req.Number,
		Content:   req.Text,
		Timestamp: time.Now(),
		Type:      "sent",
		Encoding:  res.Encoding,
		Parts:     res.Parts,
		Reference: -1,
		IsRead:    true,
		CreatedAt: time.Now(),
	}
	if n := len(res.References); n > 0 {
		sms.Reference = res.References[n-1]
	}
	return a.sms.Create(sms)
}

func (a *Archiver) register(id string) {
	if a.registry == nil {
		return
	}
	w, ok := a.registry.Get(id)
	if !ok {
		return
	}
	info := w.Info()
	if info.Modem.Manufacturer == "" && !info.Halted {
		// Not identified yet.
		return
	}
	if err := a.modems.Upsert(ModemRecord(info)); err != nil {
		logger.Log.Errorf("Failed to save modem %s: %v", info.ID, err)
	}
}

// ModemRecord converts a session snapshot into a registry row.
func ModemRecord(info worker.Info) *model.Modem {
	status := "online"
	switch {
	case info.Halted:
		status = "halted"
	case info.State != worker.StateOnline:
		status = "offline"
	}
	operator := info.Network.OperatorName
	if operator == "" {
		operator = info.Network.Operator
	}
	return &model.Modem{
		ID:             info.ID,
		Manufacturer:   info.Modem.Manufacturer,
		Model:          info.Modem.Model,
		Revision:       info.Modem.Revision,
		IMEI:           info.Modem.IMEI,
		IMSI:           info.Modem.IMSI,
		ICCID:          info.Modem.ICCID,
		Operator:       operator,
		SignalStrength: info.Network.Signal,
		PortName:       info.Port,
		Status:         status,
		Registration:   info.Network.State,
		LastSeen:       time.Now(),
	}
}
