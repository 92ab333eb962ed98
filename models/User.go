package models

import (
	"strings"

	"gorm.io/gorm"
)

// User is a buyer or seller account. Only the fields viewing requests need are mapped.
type User struct {
	gorm.Model
	FirstName  string     `json:"firstName"`
	LastName   string     `json:"lastName"`
	Email      string     `json:"email" gorm:"index"`
	AvatarURL  string     `json:"avatarURL"`
	Role       string     `json:"role" gorm:"type:varchar(20);default:'user';index"` // user, host, admin, super_admin
	Properties []Property `json:"-" gorm:"foreignKey:HostID;references:ID"`
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}
