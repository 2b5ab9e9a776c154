package repository

import (
	"github.com/pccr10001/gsmlink/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ModemRepository struct {
	db *gorm.DB
}

func NewModemRepository(db *gorm.DB) *ModemRepository {
	return &ModemRepository{db: db}
}

func (r *ModemRepository) Upsert(modem *model.Modem) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"manufacturer", "model", "revision", "imei", "imsi", "iccid",
			"port_name", "status", "signal_strength", "operator", "registration", "last_seen",
		}),
	}).Create(modem).Error
}

func (r *ModemRepository) FindByID(id string) (*model.Modem, error) {
	var modem model.Modem
	err := r.db.First(&modem, "id = ?", id).Error
	return &modem, err
}

func (r *ModemRepository) List() ([]model.Modem, error) {
	var list []model.Modem
	err := r.db.Order("id").Find(&list).Error
	return list, err
}

func (r *ModemRepository) SetStatus(id, status string) error {
	return r.db.Model(&model.Modem{}).Where("id = ?", id).Update("status", status).Error
}

func (r *ModemRepository) Rename(id, name string) error {
	return r.db.Model(&model.Modem{}).Where("id = ?", id).Update("name", name).Error
}

func (r *ModemRepository) MarkAllOffline() {
	r.db.Model(&model.Modem{}).Where("1 = 1").Update("status", "offline")
}
