// Command seedadmin creates the root administrator account directly against
// the database. Intended for first-time provisioning; the API server performs
// the same seeding on startup when PORTAL_SEED_ADMIN_PASSWORD is set.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"campusiam.org/internal/audit"
	"campusiam.org/internal/auth"
	"campusiam.org/internal/mfa"
	"campusiam.org/internal/store/pg"
)

func main() {
	var (
		name     = flag.String("name", "Portal Admin", "display name for the root admin")
		password = flag.String("password", "", "password for the root admin (required)")
	)
	flag.Parse()

	if *password == "" {
		log.Fatal("usage: seedadmin -password <password> [-name <name>]")
	}

	dsn := os.Getenv("PORTAL_PG_DSN")
	if dsn == "" {
		log.Fatal("PORTAL_PG_DSN must be set")
	}

	db, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := pg.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("ensure schema: %v", err)
	}

	// Секреты токенов здесь не используются, но сервису нужны валидные.
	tokens, err := auth.NewTokenService("seedadmin-access", "seedadmin-refresh")
	if err != nil {
		log.Fatalf("token service: %v", err)
	}
	engine, err := mfa.New("Campus IAM Portal")
	if err != nil {
		log.Fatalf("mfa engine: %v", err)
	}
	recorder, err := audit.NewRecorder(audit.NewPGStore(db))
	if err != nil {
		log.Fatalf("audit recorder: %v", err)
	}

	opts := []auth.ServiceOption{}
	if email := os.Getenv("PORTAL_ROOT_ADMIN_EMAIL"); email != "" {
		opts = append(opts, auth.WithRootAdminEmail(email))
	}

	svc, err := auth.NewService(auth.NewPGStore(db), tokens, engine, recorder, opts...)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	created, err := svc.EnsureRootAdmin(ctx, *name, *password)
	if err != nil {
		log.Fatalf("seed root admin: %v", err)
	}
	if !created {
		log.Printf("root admin %s already exists", svc.RootAdminEmail())
		return
	}
	log.Printf("root admin %s created", svc.RootAdminEmail())
}
