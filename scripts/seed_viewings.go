package main

import (
	"fmt"

	"viewing-scheduler-server/config"
	"viewing-scheduler-server/models"
	"viewing-scheduler-server/storage"
	"viewing-scheduler-server/utils"

	"github.com/kataras/golog"
)

// Seeds a seller, a buyer and one listing for local testing and prints access tokens for both users.
func main() {
	cfg := config.Load()
	db := storage.InitializeDB(cfg)

	seller := models.User{FirstName: "Sam", LastName: "Seller", Email: "seller@example.com", Role: "host"}
	buyer := models.User{FirstName: "Bea", LastName: "Buyer", Email: "buyer@example.com", Role: "user"}
	for _, u := range []*models.User{&seller, &buyer} {
		if err := db.Where(models.User{Email: u.Email}).FirstOrCreate(u).Error; err != nil {
			golog.Fatalf("Error seeding user %s: %v", u.Email, err)
		}
	}

	active := true
	listing := models.Property{
		HostID:       seller.ID,
		Title:        "Two bedroom flat near the river",
		AddressLine1: "12 Quay Street",
		City:         "Nouakchott",
		Country:      "MR",
		IsActive:     &active,
		Status:       "approved",
	}
	if err := db.Where(models.Property{HostID: seller.ID, Title: listing.Title}).FirstOrCreate(&listing).Error; err != nil {
		golog.Fatalf("Error seeding listing: %v", err)
	}

	for _, u := range []models.User{seller, buyer} {
		token, err := utils.SignAccessToken(cfg.AccessTokenSecret, u.ID, u.Role, 0)
		if err != nil {
			golog.Fatalf("Error signing token for %s: %v", u.Email, err)
		}
		fmt.Printf("%s (user %d): %s\n", u.Email, u.ID, token)
	}
	fmt.Printf("listing %d owned by user %d\n", listing.ID, seller.ID)
}
