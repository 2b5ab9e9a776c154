package logic

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pccr10001/gsmlink/internal/command"
	"github.com/pccr10001/gsmlink/internal/concat"
	"github.com/pccr10001/gsmlink/internal/config"
	"github.com/pccr10001/gsmlink/internal/event"
	"github.com/pccr10001/gsmlink/internal/model"
	"github.com/pccr10001/gsmlink/internal/pdu"
	"github.com/pccr10001/gsmlink/internal/repository"
	"github.com/pccr10001/gsmlink/internal/worker"
	"gorm.io/gorm"
)

const (
	ucs2Deliver = "00040C914477000910320008421091214365001A006800E9006C006C006F0020007700F60072006C006400202603"
	statusRep   = "00062A0A912143658709421091214365004210912153018000"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(&model.Modem{}, &model.SMS{}, &model.Webhook{}); err != nil {
		t.Fatal(err)
	}
	return db
}

func fragment(t *testing.T, raw string) *concat.Fragment {
	t.Helper()
	m, err := pdu.Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	return &concat.Fragment{Message: m, Parts: 1}
}

func TestArchiverReceived(t *testing.T) {
	db := testDB(t)

	posted := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var v map[string]any
		json.Unmarshal(body, &v)
		posted <- v
	}))
	defer srv.Close()
	repository.NewWebhookRepository(db).Create(&model.Webhook{ModemID: "*", URL: srv.URL, Enabled: true})

	a := NewArchiver(db, nil, config.WebhookConfig{})
	f := fragment(t, ucs2Deliver)
	e := event.Event{Type: event.NewSMS, ModemID: "Quectel-EC25-dev-ttyUSB2", Message: f}
	a.Handle(e)
	// The same PDU read again is not archived twice.
	a.Handle(e)

	list, total, err := repository.NewSMSRepository(db).Find(repository.SMSFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Fatalf("total = %d, want 1", total)
	}
	got := list[0]
	if got.Phone != "+447700900123" || got.Content != f.Message.Text || got.Type != "received" || got.Encoding != "ucs2" {
		t.Errorf("archived %+v", got)
	}

	select {
	case v := <-posted:
		if v["text"] != "[Quectel-EC25-dev-ttyUSB2] +447700900123: "+f.Message.Text {
			t.Errorf("webhook text = %v", v["text"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not called")
	}
}

func TestArchiverStatusReport(t *testing.T) {
	db := testDB(t)
	a := NewArchiver(db, nil, config.WebhookConfig{})

	req := worker.SendRequest{Number: "+1234567890", Text: "hello"}
	if err := a.RecordSent("m1", req, &worker.SendResult{Encoding: "7bit", Parts: 1, References: []int{42}}); err != nil {
		t.Fatal(err)
	}
	f := fragment(t, statusRep)
	a.Handle(event.Event{Type: event.StatusReport, ModemID: "m1", Message: f})

	list, err := repository.NewSMSRepository(db).FindByModem("m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Reference != 42 || list[0].Status != int(f.Message.Status) {
		t.Errorf("sent = %+v", list)
	}
}

func TestModemRecord(t *testing.T) {
	tests := []struct {
		name   string
		info   worker.Info
		status string
	}{
		{"online", worker.Info{State: worker.StateOnline}, "online"},
		{"halted", worker.Info{State: worker.StateHalted, Halted: true}, "halted"},
		{"stopped", worker.Info{State: worker.StateStopped}, "offline"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.info.ID = "Quectel-EC25-dev-ttyUSB2"
			tt.info.Port = "/dev/ttyUSB2"
			tt.info.Modem = command.ModemInfo{Manufacturer: "Quectel", Model: "EC25", ICCID: "8988"}
			tt.info.Network = command.NetworkStatus{State: "Home", Operator: "46692", Signal: 64}
			m := ModemRecord(tt.info)
			if m.Status != tt.status {
				t.Errorf("status = %s, want %s", m.Status, tt.status)
			}
			if m.ID != tt.info.ID || m.PortName != "/dev/ttyUSB2" || m.Operator != "46692" || m.SignalStrength != 64 || m.Registration != "Home" {
				t.Errorf("record = %+v", m)
			}
		})
	}
}

func TestConfigWebhooks(t *testing.T) {
	hooks := ConfigWebhooks(config.WebhookConfig{TelegramToken: "123:abc", TelegramChatID: "-100", SlackURL: "https://hooks.slack.com/services/x"})
	if len(hooks) != 2 {
		t.Fatalf("hooks = %+v", hooks)
	}
	if hooks[0].URL != "https://api.telegram.org/bot123:abc/sendMessage" || hooks[0].ChannelID != "-100" {
		t.Errorf("telegram = %+v", hooks[0])
	}
	if hooks[1].Platform != "slack" || hooks[1].ModemID != "*" {
		t.Errorf("slack = %+v", hooks[1])
	}
	if got := ConfigWebhooks(config.WebhookConfig{TelegramToken: "123:abc"}); len(got) != 0 {
		t.Errorf("telegram without chat = %+v", got)
	}
}

func TestPayload(t *testing.T) {
	sms := &model.SMS{ModemID: "m1", Phone: "+100", Content: "hi"}
	tests := []struct {
		name string
		wh   model.Webhook
		want map[string]string
	}{
		{"slack", model.Webhook{Platform: "slack"}, map[string]string{"text": "[m1] +100: hi"}},
		{"telegram", model.Webhook{Platform: "telegram", ChannelID: "42"}, map[string]string{"chat_id": "42", "text": "[m1] +100: hi"}},
		{"template", model.Webhook{Platform: "slack", Template: "{{.Phone}} says {{.Content}}"}, map[string]string{"text": "+100 says hi"}},
		{"generic", model.Webhook{}, map[string]string{"text": "[m1] +100: hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Payload(tt.wh, sms)
			if err != nil {
				t.Fatal(err)
			}
			var v map[string]any
			if err := json.Unmarshal(b, &v); err != nil {
				t.Fatal(err)
			}
			for k, want := range tt.want {
				if v[k] != want {
					t.Errorf("%s = %v, want %q", k, v[k], want)
				}
			}
		})
	}
}
