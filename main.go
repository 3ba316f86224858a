package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codesync/config"
	"codesync/config/database"
	chatrepo "codesync/internal/chat/repository"
	chatservice "codesync/internal/chat/service"
	docrepo "codesync/internal/document/repository"
	docservice "codesync/internal/document/service"
	"codesync/internal/presence"
	"codesync/pkg/logger"
	"codesync/router"
	"codesync/services/assistant"
	"codesync/services/email"
	consolemail "codesync/services/email/console"
	sendgridmail "codesync/services/email/sendgrid"
	"codesync/socket"
	"codesync/store"
)

func main() {
	logger.Init()
	defer logger.Log.Sync()

	cfg := config.Load()

	// Backend selection: Postgres when a DATABASE_URL is configured,
	// otherwise an embedded pebble store under DATA_DIR.
	var backend store.Backend
	if cfg.DatabaseURL != "" {
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			logger.Sugar.Fatalf("Could not connect to database: %v", err)
		}
		defer db.Close()

		docs := docrepo.NewDocumentRepository(db, cfg.StoreTimeout)
		chat := chatrepo.NewChatRepository(db, cfg.StoreTimeout)
		backend = store.Bundle{
			DocumentStore: docs,
			ChatLog:       chat,
			RoleStore:     docs,
			MetaStore:     docs,
		}
		logger.Sugar.Info("Using Postgres backend")
	} else {
		pebbleStore, err := store.OpenPebble(cfg.DataDir)
		if err != nil {
			logger.Sugar.Fatalf("Could not open data dir %s: %v", cfg.DataDir, err)
		}
		defer pebbleStore.Close()
		backend = pebbleStore
		logger.Sugar.Infof("Using embedded pebble backend at %s", cfg.DataDir)
	}

	var mailer email.Service
	if cfg.SendgridKey != "" {
		mailer = sendgridmail.NewService(cfg.SendgridKey, cfg.AppName, cfg.EmailFrom)
	} else {
		mailer = consolemail.NewService()
		logger.Sugar.Info("SENDGRID_API_KEY not set, invites are logged to console")
	}

	docService := docservice.NewDocumentService(backend, backend, backend, mailer)
	chatService := chatservice.NewChatService(backend, backend)

	tracker := presence.NewTracker(cfg.PresenceTTL)
	tracker.Start()
	defer tracker.Stop()

	var assistantClient *assistant.Client
	if cfg.AssistantURL != "" && cfg.AssistantKey != "" {
		assistantClient = assistant.NewClient(cfg.AssistantURL, cfg.AssistantKey)
	}

	hub := socket.NewHub(docService, chatService, tracker)
	go hub.Run()

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: router.Setup(router.Deps{
			Docs:      docService,
			Chat:      chatService,
			Presence:  tracker,
			Assistant: assistantClient,
			Hub:       hub,
			JWTSecret: cfg.JWTSecret,
		}),
	}

	go func() {
		logger.Sugar.Infof("Backend listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Sugar.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Sugar.Errorf("Shutdown error: %v", err)
	}
}
