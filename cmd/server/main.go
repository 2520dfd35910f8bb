// Command server boots the Fiber HTTP tier exposing the engine's query
// surface (snap, shortest-path, matrix-distance, health) over a
// GraphStore loaded from a msgpack+Brotli snapshot on disk. Bootstrap
// shape (Fiber app config, recover/logger/cors middleware, graceful
// shutdown on SIGINT/SIGTERM) follows the original API server's layout.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/hextransit/n-minute-city/internal/api"
	"github.com/hextransit/n-minute-city/internal/cache"
	"github.com/hextransit/n-minute-city/internal/config"
	"github.com/hextransit/n-minute-city/internal/graphstore"
)

func main() {
	log.Println("Starting n-minute-city routing server...")

	snapshotPath := getEnv("GRAPH_SNAPSHOT", "graph.mpk.br")
	log.Printf("Loading graph snapshot from %s...", snapshotPath)

	f, err := os.Open(snapshotPath)
	if err != nil {
		log.Fatalf("Failed to open graph snapshot: %v", err)
	}
	g, err := graphstore.LoadSnapshot(f)
	f.Close()
	if err != nil {
		log.Fatalf("Failed to load graph snapshot: %v", err)
	}
	log.Printf("✓ Graph loaded: %d nodes, hash=%x", g.NodeCount(), g.NodeHash())

	if _, err := cache.GetClient(); err != nil {
		log.Printf("Warning: Redis unavailable, query caching disabled: %v", err)
	} else {
		defer cache.Close()
		log.Println("✓ Redis connection established")
	}

	srvConfig := config.LoadServerConfigFromEnv()
	engine := &api.Engine{Graph: g}

	app := fiber.New(fiber.Config{
		AppName:      "n-minute-city",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
		ErrorHandler: customErrorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	app.Get("/health", engine.Health)
	app.Get("/v2/snap", engine.Snap)
	app.Get("/v2/shortest-path", engine.ShortestPath)
	app.Post("/v2/matrix-distance", engine.MatrixDistance)

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(404).JSON(fiber.Map{"error": "endpoint not found"})
	})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down gracefully...")
		if err := app.Shutdown(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}()

	addr := fmt.Sprintf(":%s", srvConfig.Port)
	log.Printf("🚀 Server listening on http://localhost%s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	log.Printf("Error: %v", err)
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
