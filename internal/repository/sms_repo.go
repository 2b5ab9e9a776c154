package repository

import (
	"github.com/pccr10001/gsmlink/internal/model"
	"gorm.io/gorm"
)

type SMSRepository struct {
	db *gorm.DB
}

func NewSMSRepository(db *gorm.DB) *SMSRepository {
	return &SMSRepository{db: db}
}

func (r *SMSRepository) Create(sms *model.SMS) error {
	return r.db.Create(sms).Error
}

// SMSFilter narrows an archive query. Zero fields match everything.
type SMSFilter struct {
	ModemIDs []string // nil means any modem
	Phone    string
	Type     string
	Limit    int
	Offset   int
}

func (r *SMSRepository) Find(f SMSFilter) ([]model.SMS, int64, error) {
	q := r.db.Model(&model.SMS{})
	if f.ModemIDs != nil {
		q = q.Where("modem_id IN ?", f.ModemIDs)
	}
	if f.Phone != "" {
		q = q.Where("phone = ?", f.Phone)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	var list []model.SMS
	err := q.Order("timestamp desc").Limit(f.Limit).Offset(f.Offset).Find(&list).Error
	return list, total, err
}

// Exists reports whether a received message with the same PDUs is already
// archived for the modem.
func (r *SMSRepository) Exists(modemID, rawPDU string) (bool, error) {
	if rawPDU == "" {
		return false, nil
	}
	var n int64
	err := r.db.Model(&model.SMS{}).
		Where("modem_id = ? AND type = ? AND raw_pdu = ?", modemID, "received", rawPDU).
		Count(&n).Error
	return n > 0, err
}

func (r *SMSRepository) FindByModem(modemID string) ([]model.SMS, error) {
	var smsList []model.SMS
	err := r.db.Where("modem_id = ?", modemID).Order("timestamp desc").Find(&smsList).Error
	return smsList, err
}

// MarkDelivered records the status report of a sent part.
func (r *SMSRepository) MarkDelivered(modemID string, reference, status int) error {
	return r.db.Model(&model.SMS{}).
		Where("modem_id = ? AND type = ? AND reference = ?", modemID, "sent", reference).
		Update("status", status).Error
}

func (r *SMSRepository) MarkRead(id uint) error {
	return r.db.Model(&model.SMS{}).Where("id = ?", id).Update("is_read", true).Error
}

func (r *SMSRepository) Delete(id uint) error {
	return r.db.Delete(&model.SMS{}, id).Error
}
