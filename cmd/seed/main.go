// seed inserts activated development accounts for local testing.
// Idempotent: accounts that already exist are left untouched.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"taskboard-auth/backend/internal/config"
	"taskboard-auth/backend/internal/db"
	"taskboard-auth/backend/internal/security"
	"taskboard-auth/backend/internal/user/domain"
	userrepo "taskboard-auth/backend/internal/user/repository"
)

const devPassword = "password123"

var devUsers = []struct {
	id, email, username, displayName string
	maxSessions                      int
}{
	{"dev-user-001", "dev@example.com", "dev0001", "Dev User", domain.DefaultMaxSessions},
	{"dev-user-002", "member@example.com", "member0002", "Member User", 5},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env or export DATABASE_URL")
	}

	conn, err := db.Open(cfg.DatabaseURL, db.DefaultPoolOptions())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	users := userrepo.NewPostgresRepository(conn)
	ctx := context.Background()

	hash, err := security.NewHasher(cfg.BcryptCost).Hash([]byte(devPassword))
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	now := time.Now().UTC()
	for _, d := range devUsers {
		existing, err := users.GetByEmail(ctx, d.email)
		if err != nil {
			log.Fatalf("seed check %s: %v", d.email, err)
		}
		if existing != nil {
			log.Printf("%s already exists, skipping", d.email)
			continue
		}
		u := &domain.User{
			ID:           d.id,
			Email:        d.email,
			PasswordHash: hash,
			Username:     d.username,
			DisplayName:  d.displayName,
			IsActive:     true,
			MaxSessions:  d.maxSessions,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := u.Validate(); err != nil {
			log.Fatalf("seed %s: %v", d.email, err)
		}
		if err := users.Create(ctx, u); err != nil {
			log.Fatalf("create %s: %v", d.email, err)
		}
		fmt.Printf("Dev login: %s / %s\n", d.email, devPassword)
	}
	log.Println("Seed completed.")
}
