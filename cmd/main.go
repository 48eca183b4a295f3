package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"artifact-semantics/internal/di"
	semanticconfig "artifact-semantics/internal/semantic/config"
	"artifact-semantics/internal/shared/logger"

	"github.com/caarlos0/env/v6"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	Host string `env:"SERVER_HOST" envDefault:"localhost"`
	Port string `env:"SERVER_PORT" envDefault:"3000"`
}

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	serverCfg := &ServerConfig{}
	if err := env.Parse(serverCfg); err != nil {
		log.Fatalf("Failed to load server configuration: %v", err)
	}

	appLogger := logger.NewLogger()

	semanticCfg, err := semanticconfig.Load()
	if err != nil {
		log.Fatalf("Failed to load semantic configuration: %v", err)
	}
	appLogger.Info("Application configuration loaded successfully")

	container := di.NewContainer(appLogger)
	defer func() {
		if err := container.Close(); err != nil {
			appLogger.Errorf("Failed to close container: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := container.InitializeSemantic(ctx, semanticCfg); err != nil {
		log.Fatalf("Failed to initialize semantic module: %v", err)
	}
	appLogger.Info("Semantic module initialized, rules loaded")

	app := fiber.New(fiber.Config{
		AppName:               "artifact-semantics",
		DisableStartupMessage: false,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	container.SemanticModule.RegisterRoutes(app)

	// Graceful shutdown on SIGINT/SIGTERM
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		appLogger.Info("Shutdown signal received, stopping server")
		_ = app.Shutdown()
	}()

	addr := serverCfg.Host + ":" + serverCfg.Port
	appLogger.Infof("Starting semantic evaluation service on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server stopped with error: %v", err)
	}
}
