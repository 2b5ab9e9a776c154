package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/pccr10001/gsmlink/internal/auth"
	"github.com/pccr10001/gsmlink/internal/config"
	"github.com/pccr10001/gsmlink/internal/event"
	"github.com/pccr10001/gsmlink/internal/logic"
	"github.com/pccr10001/gsmlink/internal/model"
	"github.com/pccr10001/gsmlink/internal/repository"
	"github.com/pccr10001/gsmlink/internal/worker"
	"github.com/pccr10001/gsmlink/internal/worker/modemtest"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type testServer struct {
	t      *testing.T
	db     *gorm.DB
	router *gin.Engine
	wm     *worker.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	bcryptCost = bcrypt.MinCost
	auth.Init("test-secret", time.Hour)

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(&model.User{}, &model.Modem{}, &model.ModemSetting{}, &model.SMS{}, &model.Webhook{}); err != nil {
		t.Fatal(err)
	}

	bus := event.NewBus()
	wm := worker.NewManager(worker.ManagerOptions{
		AT:  config.ATConfig{ReplyTimeout: 2 * time.Second, LockTimeout: 5 * time.Second, PollInterval: time.Hour},
		SMS: config.SMSConfig{MaxFragmentAge: time.Hour, Encoding: "auto"},
		Serial: config.SerialConfig{Defaults: config.ModemConfig{
			BaudRate: 115200, Parity: "none", DataBits: 8, StopBits: "1", Storage: "SM",
		}},
		Bus: bus,
		Dial: func(config.ModemConfig) worker.Dialer {
			return worker.DialerFunc(func(context.Context) (worker.Transport, error) {
				return modemtest.New(), nil
			})
		},
		Ports: func() ([]string, error) { return nil, nil },
	})
	t.Cleanup(wm.Stop)

	archiver := logic.NewArchiver(db, wm, config.WebhookConfig{})
	s := &testServer{t: t, db: db, wm: wm, router: NewRouter(db, wm, bus, archiver)}
	s.addUser("admin", "secret", "admin", "")
	s.addUser("ops", "secret", "user", "m1")
	return s
}

func (s *testServer) addUser(name, password, role, allowed string) {
	hash, err := HashPassword(password)
	if err != nil {
		s.t.Fatal(err)
	}
	u := model.User{Username: name, PasswordHash: hash, Role: role, AllowedModems: allowed}
	if err := s.db.Create(&u).Error; err != nil {
		s.t.Fatal(err)
	}
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(name string) string {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/v1/login", "", gin.H{"username": name, "password": "secret"})
	if rec.Code != http.StatusOK {
		s.t.Fatalf("login %s: %d %s", name, rec.Code, rec.Body)
	}
	var resp struct {
		Token string `json:"token"`
	}
	decode(s.t, rec, &resp)
	return resp.Token
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name     string
		body     gin.H
		wantCode int
	}{
		{"valid", gin.H{"username": "admin", "password": "secret"}, http.StatusOK},
		{"wrong password", gin.H{"username": "admin", "password": "nope"}, http.StatusUnauthorized},
		{"unknown user", gin.H{"username": "root", "password": "secret"}, http.StatusUnauthorized},
		{"missing fields", gin.H{"username": "admin"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := s.do(http.MethodPost, "/api/v1/login", "", tt.body); rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body)
			}
		})
	}
}

func TestAuthorization(t *testing.T) {
	s := newTestServer(t)
	user := s.login("ops")

	tests := []struct {
		name     string
		method   string
		path     string
		token    string
		wantCode int
	}{
		{"no token", http.MethodGet, "/api/v1/modems", "", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/api/v1/modems", "garbage", http.StatusUnauthorized},
		{"user lists modems", http.MethodGet, "/api/v1/modems", user, http.StatusOK},
		{"user lists users", http.MethodGet, "/api/v1/users", user, http.StatusForbidden},
		{"user adds modem", http.MethodPost, "/api/v1/modems", user, http.StatusForbidden},
		{"token in query", http.MethodGet, "/api/v1/sms?token=" + user, "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := s.do(tt.method, tt.path, tt.token, nil); rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body)
			}
		})
	}
}

func TestModemEndpoints(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin")

	rec := s.do(http.MethodPost, "/api/v1/modems", admin, gin.H{"port": "/dev/ttyUSB2"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add modem: %d %s", rec.Code, rec.Body)
	}
	var info worker.Info
	decode(t, rec, &info)
	if info.ID != "Quectel-EC25-dev-ttyUSB2" || info.State != worker.StateOnline {
		t.Fatalf("info = %+v", info)
	}
	settings, _ := repository.NewSettingRepository(s.db).List()
	if len(settings) != 1 || settings[0].Port != "/dev/ttyUSB2" || settings[0].BaudRate != 115200 {
		t.Errorf("settings = %+v", settings)
	}
	if rec := s.do(http.MethodPost, "/api/v1/modems", admin, gin.H{"port": "/dev/ttyUSB2"}); rec.Code != http.StatusConflict {
		t.Errorf("duplicate add: %d", rec.Code)
	}
	if rec := s.do(http.MethodPost, "/api/v1/modems", admin, gin.H{"port": "/dev/ttyUSB9", "parity": "weird"}); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid parity: %d", rec.Code)
	}

	base := "/api/v1/modems/" + info.ID
	t.Run("get", func(t *testing.T) {
		rec := s.do(http.MethodGet, base, admin, nil)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"imei":"867962040000000"`) {
			t.Errorf("%d %s", rec.Code, rec.Body)
		}
	})
	t.Run("network", func(t *testing.T) {
		rec := s.do(http.MethodGet, base+"/network", admin, nil)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"operator":"46692"`) {
			t.Errorf("%d %s", rec.Code, rec.Body)
		}
	})
	t.Run("memory", func(t *testing.T) {
		rec := s.do(http.MethodGet, base+"/memory", admin, nil)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"SM"`) {
			t.Errorf("%d %s", rec.Code, rec.Body)
		}
	})
	t.Run("passthrough", func(t *testing.T) {
		rec := s.do(http.MethodPost, base+"/at", admin, gin.H{"cmd": "AT+CSQ"})
		var resp map[string]string
		decode(t, rec, &resp)
		if rec.Code != http.StatusOK || !strings.Contains(resp["response"], "+CSQ: 20,99") || resp["result"] != "ok" {
			t.Errorf("%d %v", rec.Code, resp)
		}
	})
	t.Run("force error", func(t *testing.T) {
		rec := s.do(http.MethodPost, base+"/error", admin, nil)
		var resp map[string]string
		decode(t, rec, &resp)
		if rec.Code != http.StatusOK || resp["result"] != "error" {
			t.Errorf("%d %v", rec.Code, resp)
		}
	})
	t.Run("send", func(t *testing.T) {
		rec := s.do(http.MethodPost, base+"/sms", admin, gin.H{"number": "+1234567890", "text": "hello"})
		if rec.Code != http.StatusOK {
			t.Fatalf("%d %s", rec.Code, rec.Body)
		}
		var res worker.SendResult
		decode(t, rec, &res)
		if res.Parts != 1 || len(res.References) != 1 || res.References[0] != 7 {
			t.Errorf("result = %+v", res)
		}
		list, _, _ := repository.NewSMSRepository(s.db).Find(repository.SMSFilter{Type: "sent"})
		if len(list) != 1 || list[0].Reference != 7 || list[0].ModemID != info.ID {
			t.Errorf("archived = %+v", list)
		}
	})
	t.Run("send without text", func(t *testing.T) {
		if rec := s.do(http.MethodPost, base+"/sms", admin, gin.H{"number": "+1234567890"}); rec.Code != http.StatusBadRequest {
			t.Errorf("%d", rec.Code)
		}
	})
	t.Run("read", func(t *testing.T) {
		rec := s.do(http.MethodPost, base+"/sms/read", admin, gin.H{"status": "all"})
		if rec.Code != http.StatusOK {
			t.Errorf("%d %s", rec.Code, rec.Body)
		}
		if rec := s.do(http.MethodPost, base+"/sms/read", admin, gin.H{"status": "bogus"}); rec.Code != http.StatusBadRequest {
			t.Errorf("bogus status: %d", rec.Code)
		}
	})
	t.Run("user without access", func(t *testing.T) {
		user := s.login("ops")
		if rec := s.do(http.MethodGet, base+"/network", user, nil); rec.Code != http.StatusForbidden {
			t.Errorf("%d", rec.Code)
		}
	})
	t.Run("unknown modem", func(t *testing.T) {
		if rec := s.do(http.MethodGet, "/api/v1/modems/nope/network", admin, nil); rec.Code != http.StatusNotFound {
			t.Errorf("%d", rec.Code)
		}
	})

	if rec := s.do(http.MethodDelete, base, admin, nil); rec.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body)
	}
	if _, ok := s.wm.Get(info.ID); ok {
		t.Error("modem still running")
	}
	if settings, _ := repository.NewSettingRepository(s.db).List(); len(settings) != 0 {
		t.Errorf("settings after delete = %+v", settings)
	}
}

func TestWebhookEndpoints(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin")

	if rec := s.do(http.MethodPost, "/api/v1/webhooks", admin, gin.H{"url": "ftp://example.com"}); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid url: %d", rec.Code)
	}
	rec := s.do(http.MethodPost, "/api/v1/webhooks", admin, gin.H{"url": "https://example.com/hook", "platform": "slack"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}
	var wh model.Webhook
	decode(t, rec, &wh)
	if wh.ModemID != "*" || !wh.Enabled {
		t.Errorf("webhook = %+v", wh)
	}

	var list []model.Webhook
	decode(t, s.do(http.MethodGet, "/api/v1/webhooks?modem_id=m1", admin, nil), &list)
	if len(list) != 1 {
		t.Errorf("list = %+v", list)
	}

	if rec := s.do(http.MethodPut, "/api/v1/webhooks/1", admin, gin.H{"enabled": false}); rec.Code != http.StatusOK {
		t.Errorf("disable: %d %s", rec.Code, rec.Body)
	}
	decode(t, s.do(http.MethodGet, "/api/v1/webhooks?modem_id=m1", admin, nil), &list)
	if len(list) != 0 {
		t.Errorf("disabled webhook listed for modem: %+v", list)
	}
	if rec := s.do(http.MethodPut, "/api/v1/webhooks/99", admin, gin.H{"enabled": true}); rec.Code != http.StatusNotFound {
		t.Errorf("unknown webhook: %d", rec.Code)
	}

	if rec := s.do(http.MethodDelete, "/api/v1/webhooks/1", admin, nil); rec.Code != http.StatusOK {
		t.Errorf("delete: %d", rec.Code)
	}
	decode(t, s.do(http.MethodGet, "/api/v1/webhooks", admin, nil), &list)
	if len(list) != 0 {
		t.Errorf("list after delete = %+v", list)
	}
}

func TestSMSArchive(t *testing.T) {
	s := newTestServer(t)
	repo := repository.NewSMSRepository(s.db)
	now := time.Now()
	for i, id := range []string{"m1", "m1", "m2"} {
		repo.Create(&model.SMS{ModemID: id, Phone: "+100", Content: "msg", Type: "received", Timestamp: now.Add(time.Duration(i) * time.Second)})
	}

	type page struct {
		Data  []model.SMS `json:"data"`
		Total int64       `json:"total"`
	}
	tests := []struct {
		name      string
		user      string
		query     string
		wantCode  int
		wantTotal int64
	}{
		{"admin sees all", "admin", "", http.StatusOK, 3},
		{"admin filters modem", "admin", "?modem_id=m2", http.StatusOK, 1},
		{"user sees allowed", "ops", "", http.StatusOK, 2},
		{"user denied modem", "ops", "?modem_id=m2", http.StatusForbidden, 0},
		{"paging", "admin", "?limit=1&page=2", http.StatusOK, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodGet, "/api/v1/sms"+tt.query, s.login(tt.user), nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if rec.Code != http.StatusOK {
				return
			}
			var p page
			decode(t, rec, &p)
			if p.Total != tt.wantTotal {
				t.Errorf("total = %d, want %d", p.Total, tt.wantTotal)
			}
		})
	}
}

func TestUserEndpoints(t *testing.T) {
	s := newTestServer(t)
	admin := s.login("admin")

	rec := s.do(http.MethodPost, "/api/v1/users", admin, gin.H{"username": "viewer", "password": "secret", "allowed_modems": "*"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}
	if rec := s.do(http.MethodPost, "/api/v1/users", admin, gin.H{"username": "x", "password": "y", "role": "root"}); rec.Code != http.StatusBadRequest {
		t.Errorf("bad role: %d", rec.Code)
	}

	viewer := s.login("viewer")
	if rec := s.do(http.MethodPost, "/api/v1/change_password", viewer, gin.H{"old_password": "wrong", "new_password": "n"}); rec.Code != http.StatusForbidden {
		t.Errorf("wrong old password: %d", rec.Code)
	}
	if rec := s.do(http.MethodPost, "/api/v1/change_password", viewer, gin.H{"old_password": "secret", "new_password": "changed"}); rec.Code != http.StatusOK {
		t.Errorf("change password: %d %s", rec.Code, rec.Body)
	}
	if rec := s.do(http.MethodPost, "/api/v1/login", "", gin.H{"username": "viewer", "password": "changed"}); rec.Code != http.StatusOK {
		t.Errorf("login with new password: %d", rec.Code)
	}

	if rec := s.do(http.MethodDelete, "/api/v1/users/1", admin, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("self delete: %d", rec.Code)
	}
}

func TestEnsureAdmin(t *testing.T) {
	bcryptCost = bcrypt.MinCost
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(&model.User{}); err != nil {
		t.Fatal(err)
	}

	created, password, err := EnsureAdmin(db, "")
	if err != nil || !created || len(password) != 12 {
		t.Fatalf("EnsureAdmin = %v, %q, %v", created, password, err)
	}
	admin, err := repository.NewUserRepository(db).FindByUsername("admin")
	if err != nil {
		t.Fatal(err)
	}
	if admin.Role != "admin" || !checkPasswordHash(password, admin.PasswordHash) {
		t.Errorf("admin = %+v", admin)
	}

	if created, _, err := EnsureAdmin(db, "other"); err != nil || created {
		t.Errorf("second EnsureAdmin = %v, %v", created, err)
	}
}
