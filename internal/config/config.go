package config

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Serial   SerialConfig   `mapstructure:"serial"`
	Modems   []ModemConfig  `mapstructure:"modems"`
	AT       ATConfig       `mapstructure:"at"`
	SMS      SMSConfig      `mapstructure:"sms"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Users    UsersConfig    `mapstructure:"users"`
	Log      LogConfig      `mapstructure:"log"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console, json
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// SerialConfig controls port auto-discovery. Discovered ports are opened
// with Defaults.
type SerialConfig struct {
	AutoScan     bool          `mapstructure:"auto_scan"`
	ScanInterval time.Duration `mapstructure:"scan_interval"`
	ExcludePorts []string      `mapstructure:"exclude_ports"`
	Defaults     ModemConfig   `mapstructure:"defaults"`
}

// ModemConfig is the record kept for every attached modem.
type ModemConfig struct {
	Port           string               `mapstructure:"port" json:"port"`
	BaudRate       int                  `mapstructure:"baud_rate" json:"baud_rate"`
	Parity         string               `mapstructure:"parity" json:"parity"` // none, odd, even, mark, space
	DataBits       int                  `mapstructure:"data_bits" json:"data_bits"`
	StopBits       string               `mapstructure:"stop_bits" json:"stop_bits"` // 1, 1.5, 2
	PIN            string               `mapstructure:"pin" json:"pin,omitempty"`
	DeleteOnRead   bool                 `mapstructure:"delete_on_read" json:"delete_on_read"`
	Storage        string               `mapstructure:"storage" json:"storage"`
	RejectCalls    bool                 `mapstructure:"reject_calls" json:"reject_calls"`
	CallForwarding CallForwardingConfig `mapstructure:"call_forwarding" json:"call_forwarding"`
	InitATCommands []string             `mapstructure:"init_at_commands" json:"init_at_commands"`
}

type CallForwardingConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Number  string `mapstructure:"number" json:"number"`
}

// ATConfig holds the command engine timing.
type ATConfig struct {
	ReplyTimeout time.Duration `mapstructure:"reply_timeout"`
	WriteDelay   time.Duration `mapstructure:"write_delay"`
	LockTimeout  time.Duration `mapstructure:"lock_timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type SMSConfig struct {
	MaxFragmentAge time.Duration `mapstructure:"max_fragment_age"`
	Validity       time.Duration `mapstructure:"validity"`
	StatusReport   bool          `mapstructure:"status_report"`
	Encoding       string        `mapstructure:"encoding"` // 7bit, 8bit, ucs2, or auto
}

type WebhookConfig struct {
	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramChatID string `mapstructure:"telegram_chat_id"`
	SlackURL       string `mapstructure:"slack_url"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type UsersConfig struct {
	DefaultAdminPassword string `mapstructure:"default_admin_password"`
}

var AppConfig Config

// SetDefaults registers the default value of every tunable.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "gsmlink.db")
	v.SetDefault("serial.auto_scan", false)
	v.SetDefault("serial.scan_interval", "5s")
	v.SetDefault("serial.defaults.baud_rate", 115200)
	v.SetDefault("serial.defaults.parity", "none")
	v.SetDefault("serial.defaults.data_bits", 8)
	v.SetDefault("serial.defaults.stop_bits", "1")
	v.SetDefault("serial.defaults.delete_on_read", true)
	v.SetDefault("serial.defaults.storage", "SM")
	v.SetDefault("at.reply_timeout", "10s")
	v.SetDefault("at.write_delay", "50ms")
	v.SetDefault("at.lock_timeout", "30s")
	v.SetDefault("at.poll_interval", "30s")
	v.SetDefault("sms.max_fragment_age", "24h")
	v.SetDefault("sms.validity", "24h")
	v.SetDefault("sms.status_report", false)
	v.SetDefault("sms.encoding", "auto")
	v.SetDefault("auth.jwt_secret", "change-me")
	v.SetDefault("auth.token_ttl", "72h")
	v.SetDefault("users.default_admin_password", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads the configuration from path, or from config.yaml in the
// working directory when path is empty. A missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	SetDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, err
		}
		log.Printf("Warning: Config file not found, using defaults. Error: %v", err)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, err
	}
	for i := range c.Modems {
		c.Modems[i] = c.Modems[i].WithDefaults(c.Serial.Defaults)
	}
	return c, nil
}

// LoadConfig fills AppConfig from config.yaml and the environment.
func LoadConfig() {
	c, err := Load("")
	if err != nil {
		log.Fatalf("Unable to load config, %v", err)
	}
	AppConfig = c
	log.Println("Configuration loaded successfully")
}

// WithDefaults fills zero fields of m from d.
func (m ModemConfig) WithDefaults(d ModemConfig) ModemConfig {
	if m.BaudRate == 0 {
		m.BaudRate = d.BaudRate
	}
	if m.Parity == "" {
		m.Parity = d.Parity
	}
	if m.DataBits == 0 {
		m.DataBits = d.DataBits
	}
	if m.StopBits == "" {
		m.StopBits = d.StopBits
	}
	if m.Storage == "" {
		m.Storage = d.Storage
	}
	if len(m.InitATCommands) == 0 {
		m.InitATCommands = d.InitATCommands
	}
	return m
}
