package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	inkwell "github.com/inkwell-ui/inkwell"
	"github.com/inkwell-ui/inkwell/internal/handlers"
	"github.com/inkwell-ui/inkwell/internal/models"
	"github.com/inkwell-ui/inkwell/internal/services"
	"gopkg.in/yaml.v3"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfgDir, err := os.UserConfigDir()
	if err != nil {
		log.Fatal(fmt.Errorf("error getting user config dir: %w", err))
	}
	cfgPath := filepath.Join(cfgDir, "inkwell")
	if err := os.MkdirAll(cfgPath, 0755); err != nil {
		log.Fatal(fmt.Errorf("error creating config directory: %w", err))
	}

	cfg, err := loadConfig(filepath.Join(cfgPath, "config.yaml"))
	if err != nil {
		log.Fatal(err)
	}

	llm, err := cfg.LLM.llm(cfg.SystemPrompt, cfg.Temperature, logger)
	if err != nil {
		log.Fatal(err)
	}

	boltDB, err := services.NewBoltDB(filepath.Join(cfgPath, "store.db"))
	if err != nil {
		log.Fatal(err)
	}

	m, err := handlers.NewMain(llm, boltDB, boltDB, logger)
	if err != nil {
		log.Fatal(err)
	}

	if err := seedSessions(boltDB, m); err != nil {
		log.Fatal(err)
	}

	// Serve static files
	staticFS, err := fs.Sub(inkwell.StaticFS, "static")
	if err != nil {
		log.Fatal(err)
	}
	fileServer := http.FileServer(http.FS(staticFS))

	mux := http.NewServeMux()
	mux.Handle("/static/", http.StripPrefix("/static/", fileServer))
	mux.HandleFunc("/", m.HandleHome)
	mux.HandleFunc("/chats", m.HandleChats)
	mux.HandleFunc("/sessions/new", m.HandleNewSession)
	mux.HandleFunc("/sessions/delete", m.HandleDeleteSession)
	mux.HandleFunc("/articles/save", m.HandleSaveArticle)
	mux.HandleFunc("/articles/new", m.HandleNewArticle)
	mux.HandleFunc("/articles/edit", m.HandleEditArticle)
	mux.HandleFunc("/articles/delete", m.HandleDeleteArticle)
	mux.HandleFunc("/articles/export", m.HandleExportArticle)
	mux.HandleFunc("/sse", m.HandleSSE)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srv.RegisterOnShutdown(func() {
		if err := m.Shutdown(context.Background()); err != nil {
			log.Printf("Failed to shutdown sse server: %v", err)
		}
		if err := boltDB.Close(); err != nil {
			log.Printf("Failed to close store: %v", err)
		}
	})

	// Channel to listen for errors coming from the listener
	serverErrors := make(chan error, 1)

	go func() {
		log.Println("Server starting on :" + cfg.Port)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Blocking select waiting for either interrupt or server error
	select {
	case err := <-serverErrors:
		log.Printf("Server error: %v", err)

	case sig := <-shutdown:
		log.Printf("Start shutdown, signal: %v", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Graceful shutdown failed: %v", err)
			if err := srv.Close(); err != nil {
				log.Printf("Forcing server close: %v", err)
			}
		}
	}
}

// loadConfig reads the yaml config file, falling back to defaults when no
// file exists. A corrupt file is a hard error so a typo never silently
// reverts the whole configuration.
func loadConfig(path string) (config, error) {
	cfgFile, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer cfgFile.Close()

	cfg := config{}
	if err := yaml.NewDecoder(cfgFile).Decode(&cfg); err != nil {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	return cfg, nil
}

// seedSessions guarantees the session store is never empty on first run: an
// absent or fully unreadable store yields one default session holding the
// welcome message, which becomes the active session. Otherwise the most
// recently updated session is selected.
func seedSessions(store handlers.SessionStore, m *handlers.Main) error {
	sessions, err := store.Sessions(context.Background())
	if err != nil {
		return fmt.Errorf("error reading sessions: %w", err)
	}

	if len(sessions) > 0 {
		m.SetActiveSession(sessions[0].ID)
		return nil
	}

	session := models.ChatSession{
		ID:    uuid.New().String(),
		Title: models.DefaultSessionTitle,
		Messages: []models.Message{
			{
				ID:        uuid.New().String(),
				Role:      models.RoleModel,
				Content:   models.WelcomeMessageContent,
				Timestamp: time.Now(),
			},
		},
		UpdatedAt: time.Now(),
	}
	if err := store.AddSession(context.Background(), session); err != nil {
		return fmt.Errorf("error seeding default session: %w", err)
	}
	m.SetActiveSession(session.ID)
	return nil
}
