package repository

import (
	"github.com/pccr10001/gsmlink/internal/model"
	"gorm.io/gorm"
)

type WebhookRepository struct {
	db *gorm.DB
}

func NewWebhookRepository(db *gorm.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

func (r *WebhookRepository) Create(webhook *model.Webhook) error {
	return r.db.Create(webhook).Error
}

func (r *WebhookRepository) List() ([]model.Webhook, error) {
	var list []model.Webhook
	err := r.db.Order("id").Find(&list).Error
	return list, err
}

// FindByModem returns the enabled webhooks of a modem, including those
// registered for every modem.
func (r *WebhookRepository) FindByModem(modemID string) ([]model.Webhook, error) {
	var list []model.Webhook
	err := r.db.Where("modem_id IN ? AND enabled = ?", []string{modemID, "*"}, true).Find(&list).Error
	return list, err
}

// SetEnabled switches delivery to a webhook on or off.
func (r *WebhookRepository) SetEnabled(id uint, enabled bool) error {
	res := r.db.Model(&model.Webhook{}).Where("id = ?", id).Update("enabled", enabled)
	if res.Error == nil && res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return res.Error
}

func (r *WebhookRepository) Delete(id uint) error {
	return r.db.Delete(&model.Webhook{}, id).Error
}
