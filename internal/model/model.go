package model

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	Username      string         `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash  string         `gorm:"not null" json:"-"`
	Role          string         `gorm:"default:'user'" json:"role"` // admin, user
	AllowedModems string         `json:"allowed_modems"`             // Comma separated modem IDs, or "*"
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

// Modem is the registry row of a modem seen by a worker. The ID is derived
// from manufacturer, model and port.
type Modem struct {
	ID             string    `gorm:"primaryKey" json:"id"`
	Name           string    `json:"name"` // User defined alias
	Manufacturer   string    `json:"manufacturer"`
	Model          string    `json:"model"`
	Revision       string    `json:"revision"`
	IMEI           string    `json:"imei"`
	IMSI           string    `json:"imsi"`
	ICCID          string    `gorm:"index;column:iccid" json:"iccid"`
	Operator       string    `json:"operator"`
	SignalStrength int       `json:"signal_strength"` // percent
	PortName       string    `json:"port_name"`       // Current COM port, can change
	Status         string    `json:"status"`          // online, offline, halted
	Registration   string    `json:"registration"`    // Home, Roaming, Denied, etc.
	LastSeen       time.Time `json:"last_seen"`
}

// ModemSetting is a modem added at runtime through the API. Settings are
// restored when the service starts.
type ModemSetting struct {
	Port         string    `gorm:"primaryKey" json:"port"`
	BaudRate     int       `json:"baud_rate"`
	Parity       string    `json:"parity"`
	DataBits     int       `json:"data_bits"`
	StopBits     string    `json:"stop_bits"`
	PIN          string    `json:"-"`
	DeleteOnRead bool      `json:"delete_on_read"`
	Storage      string    `json:"storage"`
	RejectCalls  bool      `json:"reject_calls"`
	ForwardTo    string    `json:"forward_to"`
	CreatedAt    time.Time `json:"created_at"`
}

type SMS struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ModemID   string    `gorm:"index;not null" json:"modem_id"`
	Phone     string    `gorm:"index;not null" json:"phone"`
	Content   string    `json:"content"`
	Timestamp time.Time `gorm:"index" json:"timestamp"`
	Type      string    `gorm:"index" json:"type"` // sent, received, status_report
	Encoding  string    `json:"encoding"`
	Parts     int       `json:"parts"`
	Reference int       `json:"reference"` // message reference of a sent part or a status report
	Status    int       `json:"status"`    // TP-ST of a status report
	IsRead    bool      `gorm:"default:false" json:"is_read"`
	RawPDU    string    `json:"raw_pdu,omitempty"` // For debugging
	CreatedAt time.Time `json:"created_at"`
}

type Webhook struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ModemID   string    `gorm:"index;not null" json:"modem_id"` // "*" for every modem
	URL       string    `gorm:"not null" json:"url"`
	Platform  string    `json:"platform"`   // telegram, slack, generic
	ChannelID string    `json:"channel_id"` // For Telegram
	Template  string    `json:"template"`   // "Msg from {{.Phone}}: {{.Content}}"
	Enabled   bool      `gorm:"default:true" json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}
