package repository

import (
	"github.com/pccr10001/gsmlink/internal/model"
	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(u *model.User) error {
	return r.db.Create(u).Error
}

func (r *UserRepository) Save(u *model.User) error {
	return r.db.Save(u).Error
}

func (r *UserRepository) FindByID(id uint) (*model.User, error) {
	var u model.User
	err := r.db.First(&u, id).Error
	return &u, err
}

func (r *UserRepository) FindByUsername(name string) (*model.User, error) {
	var u model.User
	err := r.db.Where("username = ?", name).First(&u).Error
	return &u, err
}

func (r *UserRepository) List() ([]model.User, error) {
	var list []model.User
	err := r.db.Order("id").Find(&list).Error
	return list, err
}

func (r *UserRepository) Count() (int64, error) {
	var n int64
	err := r.db.Model(&model.User{}).Count(&n).Error
	return n, err
}

func (r *UserRepository) Delete(id uint) error {
	return r.db.Delete(&model.User{}, id).Error
}
