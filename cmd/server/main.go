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

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"tunnel-chat/config"
	"tunnel-chat/handlers"
	"tunnel-chat/repository"
	"tunnel-chat/services"
	"tunnel-chat/ws"
)

func main() {
	cfg := config.Load()

	log.Printf("Starting tunnel-chat relay on port %s", cfg.Port)

	// --- repos: Postgres when configured, in-memory otherwise ---
	var (
		userRepo repository.UserRepository
		roomRepo repository.RoomRepository
		msgRepo  repository.MessageRepository
		fileRepo repository.FileRepository
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		if err := db.Ping(); err != nil {
			log.Fatalf("Failed to reach database: %v", err)
		}
		if err := repository.MigratePostgres(db); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		userRepo = repository.NewPostgresUserRepo(db)
		roomRepo = repository.NewPostgresRoomRepo(db)
		msgRepo = repository.NewPostgresMessageRepo(db, cfg.HistoryLimit)
		fileRepo = repository.NewPostgresFileRepo(db)
		log.Println("Using Postgres storage")
	} else {
		userRepo = repository.NewInMemoryUserRepo()
		roomRepo = repository.NewInMemoryRoomRepo()
		msgRepo = repository.NewInMemoryMessageRepo(cfg.HistoryLimit)
		fileRepo = repository.NewInMemoryFileRepo()
		log.Println("Using in-memory storage")
	}

	// Redis, when present, takes over message history regardless of the
	// primary store.
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("Failed to reach redis at %s: %v", cfg.RedisAddr, err)
		}
		msgRepo = repository.NewRedisMessageRepo(rdb, cfg.HistoryLimit)
		log.Printf("Using Redis message history at %s", cfg.RedisAddr)
	}

	// --- services ---
	authSvc := services.NewAuthService(userRepo, &cfg)
	roomSvc := services.NewRoomService(roomRepo)
	msgSvc := services.NewMessageService(msgRepo, roomSvc, &cfg)
	fileSvc, err := services.NewFileService(fileRepo, roomSvc, cfg.UploadsDir)
	if err != nil {
		log.Fatalf("Failed to init file storage: %v", err)
	}

	seedDefaultRooms(roomSvc)

	// --- websocket hub + liveness sweeper ---
	hub := ws.NewHub(authSvc, roomSvc, msgSvc)
	sweeper := ws.NewSweeper(hub, cfg.PingInterval, cfg.IdleInterval, cfg.IdleThreshold)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweeper.Run(ctx)

	// --- handlers ---
	authH := handlers.NewAuthHandler(authSvc)
	roomH := handlers.NewRoomHandler(hub, roomSvc)
	msgH := handlers.NewMessageHandler(msgSvc)
	fileH := handlers.NewFileHandler(fileSvc)
	requireAuth := handlers.NewAuthMiddleware(authSvc)

	// --- routes ---
	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","timestamp":"` + time.Now().Format(time.RFC3339) + `"}`))
	}).Methods(http.MethodGet)

	r.HandleFunc("/api/auth/register", authH.Register).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", authH.Login).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/validate", authH.Validate).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(requireAuth)
	api.HandleFunc("/rooms", roomH.List).Methods(http.MethodGet)
	api.HandleFunc("/rooms", roomH.Create).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{roomId}/messages", msgH.History).Methods(http.MethodGet)
	api.HandleFunc("/users/online", roomH.OnlineUsers).Methods(http.MethodGet)
	api.HandleFunc("/files", fileH.Upload).Methods(http.MethodPost)
	api.HandleFunc("/files/{fileId}", fileH.Download).Methods(http.MethodGet)
	api.HandleFunc("/files/{fileId}", fileH.Delete).Methods(http.MethodDelete)

	r.HandleFunc("/ws", hub.ServeWS)

	handler := handlers.CORS(handlers.Logging(r))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("HTTP API on http://localhost:%s", cfg.Port)
		log.Printf("WS endpoint: ws://localhost:%s/ws", cfg.Port)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// seedDefaultRooms makes sure the two public lobbies exist. Creation is
// skipped silently when a previous run (or Postgres) already has them.
// Seeded rooms start with no members; nobody has joined yet.
func seedDefaultRooms(rooms *services.RoomService) {
	for _, name := range []string{"General", "Random"} {
		if _, err := rooms.GetRoom(name); err == nil {
			continue
		}
		if _, err := rooms.CreateRoom(name, "", false, false); err != nil {
			log.Printf("Warning: could not seed room %q: %v", name, err)
		} else {
			log.Printf("Seeded default room: %s", name)
		}
	}
}
