package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/GeniusYafei/LLM-Assistant-system/internal/auth"
	"github.com/GeniusYafei/LLM-Assistant-system/internal/config"
	"github.com/GeniusYafei/LLM-Assistant-system/internal/handler"
	"github.com/GeniusYafei/LLM-Assistant-system/internal/preview"
	"github.com/GeniusYafei/LLM-Assistant-system/internal/repository"
	"github.com/GeniusYafei/LLM-Assistant-system/internal/service"
	"github.com/GeniusYafei/LLM-Assistant-system/internal/service/llm"
	"github.com/GeniusYafei/LLM-Assistant-system/internal/service/s3"
)

func connectWithRetry(dsn string, maxAttempts int, delay time.Duration) (*sqlx.DB, error) {
	var db *sqlx.DB
	var err error

	for i := 0; i < maxAttempts; i++ {
		db, err = sqlx.Connect("postgres", dsn)
		if err == nil {
			return db, nil
		}

		log.Printf("Failed to connect to database (attempt %d/%d): %v", i+1, maxAttempts, err)
		time.Sleep(delay)
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %v", maxAttempts, err)
}

func runMigrations(cfg *config.Config) error {
	var m *migrate.Migrate
	var err error

	for i := 0; i < 5; i++ {
		m, err = migrate.New("file://migrations", cfg.Database.GetURL())
		if err == nil {
			break
		}
		log.Printf("Failed to create migrate instance (attempt %d/5): %v", i+1, err)
		time.Sleep(time.Second * 5)
	}
	if err != nil {
		return fmt.Errorf("failed to create migrate instance after retries: %w", err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	if dirty {
		log.Printf("Found dirty database state at version %d, attempting to force version", version)
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to force version: %w", err)
		}
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

func main() {
	appConfig, err := config.NewConfig(".app.env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := connectWithRetry(appConfig.Database.GetDSN(), 5, time.Second*5)
	if err != nil {
		log.Fatalf("Failed to connect to database after retries: %v", err)
	}
	defer db.Close()

	if err := runMigrations(appConfig); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	auth.Init(appConfig.Auth.Secret)

	s3Config, err := s3.NewConfig(".s3.env")
	if err != nil {
		log.Fatalf("Failed to load S3 config: %v", err)
	}

	s3Client, err := s3.NewClient(s3Config)
	if err != nil {
		log.Fatalf("Failed to create S3 client: %v", err)
	}

	llmClient := llm.NewClient(appConfig.LLM.BaseURL, appConfig.LLM.Timeout())

	convRepo := repository.NewConversationRepository(db)
	docRepo := repository.NewDocumentRepository(db)
	userRepo := repository.NewUserRepository(db)
	quotaRepo := repository.NewQuotaRepository(db, appConfig.Quota.DefaultLimitBytes)
	analyticsRepo := repository.NewAnalyticsRepository(db)

	quotaService := service.NewQuotaService(quotaRepo, appConfig.Quota)
	chatService := service.NewChatService(convRepo, docRepo, userRepo, quotaService, llmClient)
	documentService := service.NewDocumentService(docRepo, convRepo, quotaService, s3Client)
	analyticsService := service.NewAnalyticsService(analyticsRepo, appConfig.LLM.BaseURL)
	previewService := preview.NewService(s3Client)

	chatHandler := handler.NewChatHandler(chatService)
	documentHandler := handler.NewDocumentHandler(documentService)
	quotaHandler := handler.NewQuotaHandler(quotaService)
	analyticsHandler := handler.NewAnalyticsHandler(analyticsService)
	previewHandler := preview.NewHandler(previewService, documentService)

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(appConfig.Server.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/chat", func(r chi.Router) {
			r.Get("/conversations", chatHandler.ListConversations)
			r.Post("/conversations", chatHandler.CreateConversation)

			r.Route("/conversations/{id}", func(r chi.Router) {
				r.Patch("/", chatHandler.RenameConversation)
				r.Delete("/", chatHandler.DeleteConversation)
				r.Get("/messages", chatHandler.ListMessages)
				r.Post("/messages", chatHandler.SendMessage)
				r.Post("/messages/stream", chatHandler.StreamMessage)
			})
		})

		r.Route("/files", func(r chi.Router) {
			r.Get("/", documentHandler.List)
			r.Post("/upload", documentHandler.Upload)
			r.Get("/usage", documentHandler.Usage)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/download", documentHandler.Download)
				r.Delete("/", documentHandler.Delete)
				r.Get("/preview", previewHandler.GetPreview)
			})
		})

		r.Get("/quota/info", quotaHandler.GetQuotaInfo)
		r.Get("/admin/analytics/summary", analyticsHandler.GetSummary)
		r.Get("/admin/analytics/trends", analyticsHandler.GetTrends)
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", appConfig.Server.Port),
		Handler: r,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting HTTP server on port %s", appConfig.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to serve HTTP: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down servers...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Servers stopped")
}
