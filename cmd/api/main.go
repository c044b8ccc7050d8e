package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campusiam.org/internal/audit"
	"campusiam.org/internal/auth"
	"campusiam.org/internal/httpapi"
	"campusiam.org/internal/mfa"
	"campusiam.org/internal/notify"
	"campusiam.org/internal/obs"
	"campusiam.org/internal/store/pg"
)

var (
	version = "1.2.0"
	commit  = "dev" // переопределяется через -ldflags при сборке
)

func main() {
	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	accessSecret := os.Getenv("PORTAL_JWT_SECRET")
	refreshSecret := os.Getenv("PORTAL_JWT_REFRESH_SECRET")
	if accessSecret == "" || refreshSecret == "" {
		log.Fatal("PORTAL_JWT_SECRET and PORTAL_JWT_REFRESH_SECRET must be set")
	}

	tokens, err := auth.NewTokenService(accessSecret, refreshSecret)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}

	engine, err := mfa.New("Campus IAM Portal")
	if err != nil {
		log.Fatalf("mfa engine: %v", err)
	}

	// Подключение к БД (если задан DSN); без него стартуем на in-memory
	// хранилищах для локальной разработки.
	var (
		db         *sql.DB
		users      auth.UserStore
		auditStore audit.Store
	)
	if dsn := os.Getenv("PORTAL_PG_DSN"); dsn != "" {
		db, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := pg.EnsureSchema(ctx, db); err != nil {
			cancel()
			log.Fatalf("ensure schema: %v", err)
		}
		cancel()
		users = auth.NewPGStore(db)
		auditStore = audit.NewPGStore(db)
	} else {
		log.Print("PORTAL_PG_DSN not set, using in-memory stores")
		users = auth.NewInMemory()
		auditStore = audit.NewInMemory()
	}

	recorder, err := audit.NewRecorder(auditStore)
	if err != nil {
		log.Fatalf("audit recorder: %v", err)
	}

	opts := []auth.ServiceOption{
		auth.WithNotifier(notify.ConsoleMailer{}),
	}
	if email := os.Getenv("PORTAL_ROOT_ADMIN_EMAIL"); email != "" {
		opts = append(opts, auth.WithRootAdminEmail(email))
	}
	if base := os.Getenv("PORTAL_FRONTEND_URL"); base != "" {
		opts = append(opts, auth.WithResetLinkBase(base))
	}

	svc, err := auth.NewService(users, tokens, engine, recorder, opts...)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	// Root-админ создаётся при старте, если задан seed-пароль.
	if seed := os.Getenv("PORTAL_SEED_ADMIN_PASSWORD"); seed != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		created, err := svc.EnsureRootAdmin(ctx, "", seed)
		cancel()
		if err != nil {
			log.Fatalf("seed root admin: %v", err)
		}
		if created {
			log.Printf("root admin %s created", svc.RootAdminEmail())
		}
	}

	api := httpapi.New(svc, httpapi.ReadyProbe{DB: db}, httpapi.Config{
		Env:            os.Getenv("PORTAL_ENV"),
		FrontendOrigin: os.Getenv("PORTAL_FRONTEND_URL"),
		Version:        version,
	})

	addr := ":8080"
	if port := os.Getenv("PORTAL_PORT"); port != "" {
		addr = ":" + port
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(), // уже обёрнут метриками в httpapi
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting campus-iam-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
