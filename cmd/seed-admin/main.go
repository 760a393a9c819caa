package main

import (
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/playquickdraw/backend/internal/admin"
	"github.com/playquickdraw/backend/internal/config"
	"github.com/playquickdraw/backend/internal/database"
)

// Seeds (or resets) an admin account. Usage:
//
//	go run ./cmd/seed-admin -username ops -token s3cret
func main() {
	godotenv.Load()

	username := flag.String("username", os.Getenv("ADMIN_USERNAME"), "admin username")
	token := flag.String("token", os.Getenv("ADMIN_TOKEN"), "admin token (will be bcrypt-hashed)")
	flag.Parse()

	if *username == "" || *token == "" {
		log.Fatal("username and token are required (flags or ADMIN_USERNAME/ADMIN_TOKEN)")
	}

	cfg := config.Load()
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := admin.CreateAdminAccount(db, *username, *token); err != nil {
		log.Fatalf("Failed to seed admin account: %v", err)
	}
	log.Printf("[SEED] Admin account %s created/updated", *username)
}
