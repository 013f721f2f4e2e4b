package main

import (
	"log"
	"os"

	"todochat/internal/api"
	"todochat/internal/auth"
	"todochat/internal/config"
	"todochat/internal/redis"
	"todochat/internal/service/agent"
	"todochat/internal/service/chat"
	"todochat/internal/service/tasks"
	"todochat/internal/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("TODOCHAT_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("TODOCHAT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	// Create necessary tables: tasks, conversations, messages
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	// Redis is optional; without it every token verification hits the
	// JWT parser instead of the cache.
	var rdb *redis.Client
	if cfg.Redis.Host != "" {
		rdb, err = redis.NewClient(cfg)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer rdb.Close()
	}

	taskService := tasks.NewService(db)
	chatService := chat.NewService(db)
	authService := auth.NewService(cfg.Auth.Secret, rdb)
	agentService, err := agent.NewService(cfg, taskService)
	if err != nil {
		log.Fatalf("init agent service: %v", err)
	}

	handlers := api.NewHandler(taskService, chatService, authService, agentService, cfg.BasicConfig.CORSOrigins)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
