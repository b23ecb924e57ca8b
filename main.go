package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/CUknot/chat_relay/config"
	"github.com/CUknot/chat_relay/controllers"
	"github.com/CUknot/chat_relay/database"
	"github.com/CUknot/chat_relay/docs"
	"github.com/CUknot/chat_relay/middleware"
	"github.com/CUknot/chat_relay/utils"
	"github.com/CUknot/chat_relay/websocket"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title           Chat Relay API
// @version         1.0
// @description     REST surface of the real-time chat relay
// @host            localhost:8080
// @BasePath        /
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database
	db, err := database.Connect(cfg.DSN())
	if err != nil {
		log.Fatal(err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tokens := utils.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	accounts := database.NewAccounts(db, tokens)

	opts := []websocket.Option{websocket.WithMediaResolver(utils.NewMediaResolver(cfg.MediaBaseURL))}
	var archive *database.MessageArchive
	archiveCtx, stopArchive := context.WithCancel(context.Background())
	if cfg.ArchiveEnabled {
		archive = database.NewMessageArchive(db, cfg.ArchiveQueueSize)
		archive.Start(archiveCtx)
		opts = append(opts, websocket.WithArchiver(archive))
	}

	hub := websocket.NewHub(websocket.Config{
		HistorySize:   cfg.HistorySize,
		MaxBodyLength: cfg.MaxBodyLength,
		SendQueueSize: cfg.SendQueueSize,
		WriteWait:     cfg.WriteWait,
		PongWait:      cfg.PongWait,
		AuthTimeout:   cfg.AuthTimeout,
		MaxFrameBytes: cfg.MaxFrameBytes,
		DefaultRoom:   cfg.DefaultRoom,
		SingleRoom:    cfg.SingleRoom,
	}, accounts, opts...)

	authController := &controllers.AuthController{Accounts: accounts, Relay: hub}
	messageController := &controllers.MessageController{Accounts: accounts, Archive: archive, Relay: hub}

	docs.SwaggerInfo.Host = "localhost:" + cfg.Port

	// Set up router
	router := gin.Default()
	router.Use(middleware.CORS())

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Authentication routes
	public := router.Group("/api")
	{
		public.POST("/register", authController.Register)
		public.POST("/login", authController.Login)
	}

	// Protected routes
	api := router.Group("/api")
	api.Use(middleware.JWTAuth(accounts))
	{
		api.GET("/me", authController.Me)
		api.POST("/logout", authController.Logout)
		api.DELETE("/account", authController.DeleteAccount)

		api.GET("/rooms/:id/history", messageController.GetHistory)
		api.GET("/rooms/:id/archive", messageController.GetArchive)
		api.GET("/rooms/:id/presence", messageController.GetPresence)
		api.POST("/messages", messageController.CreateMessage)
	}

	// WebSocket route
	router.GET("/ws", hub.HandleConnection)

	server := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		log.Printf("Server running on port %s", cfg.Port)
		log.Printf("Swagger documentation available at http://localhost:%s/swagger/index.html", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("error shutting down http server: %v", err)
	}
	if err := hub.Shutdown(shutdownCtx); err != nil {
		log.Printf("error closing relay connections: %v", err)
	}
	stopArchive()
	if archive != nil {
		archive.Wait()
	}
}
