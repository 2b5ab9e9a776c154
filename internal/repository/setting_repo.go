package repository

import (
	"time"

	"github.com/pccr10001/gsmlink/internal/config"
	"github.com/pccr10001/gsmlink/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SettingRepository struct {
	db *gorm.DB
}

func NewSettingRepository(db *gorm.DB) *SettingRepository {
	return &SettingRepository{db: db}
}

// Save stores s, replacing any setting for the same port.
func (r *SettingRepository) Save(s *model.ModemSetting) error {
	return r.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(s).Error
}

func (r *SettingRepository) List() ([]model.ModemSetting, error) {
	var list []model.ModemSetting
	err := r.db.Order("port").Find(&list).Error
	return list, err
}

func (r *SettingRepository) Delete(port string) error {
	return r.db.Delete(&model.ModemSetting{}, "port = ?", port).Error
}

// Configs returns the stored settings as modem configurations.
func (r *SettingRepository) Configs() ([]config.ModemConfig, error) {
	list, err := r.List()
	if err != nil {
		return nil, err
	}
	out := make([]config.ModemConfig, 0, len(list))
	for _, s := range list {
		out = append(out, config.ModemConfig{
			Port:           s.Port,
			BaudRate:       s.BaudRate,
			Parity:         s.Parity,
			DataBits:       s.DataBits,
			StopBits:       s.StopBits,
			PIN:            s.PIN,
			DeleteOnRead:   s.DeleteOnRead,
			Storage:        s.Storage,
			RejectCalls:    s.RejectCalls,
			CallForwarding: config.CallForwardingConfig{Enabled: s.ForwardTo != "", Number: s.ForwardTo},
		})
	}
	return out, nil
}

// SettingFromConfig builds the stored form of c.
func SettingFromConfig(c config.ModemConfig) *model.ModemSetting {
	s := &model.ModemSetting{
		Port:         c.Port,
		BaudRate:     c.BaudRate,
		Parity:       c.Parity,
		DataBits:     c.DataBits,
		StopBits:     c.StopBits,
		PIN:          c.PIN,
		DeleteOnRead: c.DeleteOnRead,
		Storage:      c.Storage,
		RejectCalls:  c.RejectCalls,
		CreatedAt:    time.Now(),
	}
	if c.CallForwarding.Enabled {
		s.ForwardTo = c.CallForwarding.Number
	}
	return s
}
