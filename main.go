package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/pccr10001/gsmlink/internal/api"
	"github.com/pccr10001/gsmlink/internal/auth"
	"github.com/pccr10001/gsmlink/internal/config"
	"github.com/pccr10001/gsmlink/internal/event"
	"github.com/pccr10001/gsmlink/internal/logic"
	"github.com/pccr10001/gsmlink/internal/mccmnc"
	"github.com/pccr10001/gsmlink/internal/model"
	"github.com/pccr10001/gsmlink/internal/repository"
	"github.com/pccr10001/gsmlink/internal/worker"
	"github.com/pccr10001/gsmlink/pkg/logger"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func main() {
	// 1. Load Config
	config.LoadConfig()
	cfg := config.AppConfig

	// 2. Init Logger
	logger.InitLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Log.Info("Starting gsmlink...")

	// Load MCCMNC
	if err := mccmnc.LoadOperators("mcc_mnc.json"); err != nil {
		logger.Log.Warnf("Failed to load MCC/MNC data: %v", err)
	}

	// 3. Init Database
	db := initDB(cfg)
	auth.Init(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Start Worker Manager
	bus := event.NewBus()
	wm := worker.NewManager(worker.ManagerOptions{
		AT:           cfg.AT,
		SMS:          cfg.SMS,
		Serial:       cfg.Serial,
		Bus:          bus,
		RestartDelay: 10 * time.Second,
	})
	archiver := logic.NewArchiver(db, wm, cfg.Webhook)
	go archiver.Run(ctx, bus)

	modems := cfg.Modems
	stored, err := repository.NewSettingRepository(db).Configs()
	if err != nil {
		logger.Log.Errorf("Failed to load stored modems: %v", err)
	}
	for _, s := range stored {
		if !configured(modems, s.Port) {
			modems = append(modems, s)
		}
	}
	wm.Start(ctx, modems)
	defer wm.Stop()

	// 5. Start Server
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := api.NewRouter(db, wm, bus, archiver)

	port := cfg.Server.Port
	if port != "" && port[0] != ':' {
		port = ":" + port
	}
	srv := &http.Server{Addr: port, Handler: r}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	logger.Log.Infof("Server listening on %s", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Log.Fatalf("Server failed to start: %v", err)
	}
	repository.NewModemRepository(db).MarkAllOffline()
}

func configured(modems []config.ModemConfig, port string) bool {
	for _, m := range modems {
		if m.Port == port {
			return true
		}
	}
	return false
}

func initDB(cfg config.Config) *gorm.DB {
	var db *gorm.DB
	var err error

	driver := cfg.Database.Driver
	dsn := cfg.Database.DSN

	switch driver {
	case "mysql":
		db, err = gorm.Open(mysql.Open(dsn), &gorm.Config{})
	default:
		// Default to SQLite (pure Go)
		if dsn == "" {
			dsn = "gsmlink.db"
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	}

	if err != nil {
		logger.Log.Fatalf("Failed to connect database (%s): %v", driver, err)
	}

	// Auto Migrate
	if err := db.AutoMigrate(&model.User{}, &model.Modem{}, &model.ModemSetting{}, &model.SMS{}, &model.Webhook{}); err != nil {
		logger.Log.Fatalf("Failed to migrate database: %v", err)
	}
	// Sessions from a previous run are gone.
	repository.NewModemRepository(db).MarkAllOffline()

	// Init Admin
	created, password, err := api.EnsureAdmin(db, cfg.Users.DefaultAdminPassword)
	switch {
	case err != nil:
		logger.Log.Fatalf("Failed to create admin: %v", err)
	case created && password != "":
		logger.Log.Warnf("INITIAL ADMIN CREATED. Username: admin, Password: %s", password)
	case created:
		logger.Log.Warn("INITIAL ADMIN CREATED with the configured password. Username: admin")
	}

	return db
}
