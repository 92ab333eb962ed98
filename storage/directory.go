package storage

import (
	"context"
	"errors"

	"viewing-scheduler-server/models"

	"gorm.io/gorm"
)

// Directory reads users and listings from the shared application tables.
type Directory struct {
	db *gorm.DB
}

func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) GetListing(ctx context.Context, id uint) (*models.Property, error) {
	var property models.Property
	err := d.db.WithContext(ctx).First(&property, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &property, nil
}

func (d *Directory) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := d.db.WithContext(ctx).Select("id", "first_name", "last_name", "email", "role").First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
