package models

import (
	"strings"

	"gorm.io/gorm"
)

// Property is a listing that buyers can request viewings of. HostID is the seller.
type Property struct {
	gorm.Model
	HostID       uint    `json:"hostID" gorm:"index"`
	Title        string  `json:"title"`
	PropertyType string  `json:"propertyType"`
	AddressLine1 string  `json:"addressLine1"`
	AddressLine2 string  `json:"addressLine2"`
	City         string  `json:"city"`
	State        string  `json:"state"`
	Zip          string  `json:"zip"`
	Country      string  `json:"country"`
	Lat          float32 `json:"lat"`
	Lng          float32 `json:"lng"`
	IsActive     *bool   `json:"isActive"`
	Status       string  `json:"status" gorm:"type:varchar(20);default:'pending';index"` // pending, approved, rejected
	Host         User    `json:"-" gorm:"foreignKey:HostID;references:ID"`
}

// Address joins the non-empty address parts for display in calendar invites.
func (p *Property) Address() string {
	parts := []string{}
	for _, part := range []string{p.AddressLine1, p.AddressLine2, p.City, p.State, p.Zip, p.Country} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, ", ")
}
