// Command seed loads sample restaurant data into postgres for local
// development.
package main

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/steven-haddix/nomnom/internal/model/business"
	"github.com/steven-haddix/nomnom/internal/store"
)

var restaurants = []business.Restaurant{
	{
		Name:            "The Gourmet Kitchen",
		Address:         "123 Culinary Avenue, Flavor Town",
		Phone:           "+11234567890",
		Website:         "https://thegourmetkitchen.com",
		OperatingHours:  "Mon-Sat 9:00 AM - 9:00 PM, Sun Closed",
		CuisineType:     "Fusion",
		DeliveryOptions: "Dine-in, Takeaway, Delivery",
	},
	{
		Name:            "Trattoria Sole",
		Address:         "42 Via Roma, Little Italy",
		Phone:           "+15559876543",
		Website:         "https://trattoriasole.example.com",
		OperatingHours:  "Tue-Sun 11:00 AM - 10:00 PM, Mon Closed",
		CuisineType:     "Italian",
		DeliveryOptions: "Dine-in, Takeaway",
	},
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx := context.Background()

	if err := store.Migrate(dbURL); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	pool, err := store.OpenPostgres(ctx, dbURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	restaurantStore := store.NewRestaurantStore(pool)
	for _, r := range restaurants {
		created, err := restaurantStore.Create(ctx, r)
		if err != nil {
			log.Fatalf("failed to seed restaurant %q: %v", r.Name, err)
		}
		log.Printf("seeded restaurant id=%d name=%q phone=%s", created.ID, created.Name, created.Phone)
	}
}
