package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/gin-gonic/gin"

	"roastchat/internal/api"
	"roastchat/internal/config"
	"roastchat/internal/id"
	"roastchat/internal/logger"
	"roastchat/internal/redis"
	"roastchat/internal/service/chat"
	"roastchat/internal/service/conversation"
	"roastchat/internal/service/roast"
	"roastchat/internal/storage"
)

func main() {
	cfg, err := config.Load(os.Getenv("ROASTCHAT_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	lg, err := logger.New(cfg.BasicConfig.LogMode)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer lg.Sync()

	if err := id.Init(cfg.BasicConfig.NodeID); err != nil {
		lg.Fatal("init id generator", "error", err)
	}

	ctx := context.Background()
	kv, closeKV, err := openKeyValue(cfg)
	if err != nil {
		lg.Fatal("open key-value store", "store", cfg.BasicConfig.Store, "error", err)
	}
	defer closeKV()
	lg.Info("key-value store ready", "store", cfg.BasicConfig.Store)

	store, err := conversation.Open(ctx, kv)
	if err != nil {
		lg.Fatal("load conversations", "error", err)
	}

	settings, err := roast.NewSettings(ctx, kv, roast.Fallbacks{
		BuildCredential: config.LoadBuildCredential(),
		PageCredential:  cfg.Page.GeminiAPIKey,
		PageTone:        cfg.Page.RoastStyle,
	})
	if err != nil {
		lg.Fatal("load settings", "error", err)
	}
	if err := settings.CredentialError(); err != nil {
		lg.Warn("ignoring stored gemini key", "error", err)
	}
	if _, src, ok := settings.Credential(); ok {
		lg.Info("gemini key resolved", "key_source", src)
	} else {
		lg.Warn("no gemini key configured; replies will fail until one is set")
	}

	client, err := roast.NewClient(settings, roast.Options{
		BaseURL:         cfg.Gemini.BaseURL,
		Model:           cfg.Gemini.Model,
		Temperature:     cfg.Gemini.Temperature,
		TopP:            cfg.Gemini.TopP,
		TopK:            cfg.Gemini.TopK,
		MaxOutputTokens: cfg.Gemini.MaxOutputTokens,
		HistoryWindow:   cfg.BasicConfig.HistoryWindow,
		Logger:          lg,
	})
	if err != nil {
		lg.Fatal("init roast client", "error", err)
	}

	handlers := api.NewHandler(store, chat.NewService(store, client, lg), settings)

	if cfg.BasicConfig.LogMode == "prod" || cfg.BasicConfig.LogMode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), api.RequestLogger(lg), api.CORS(cfg.BasicConfig.AllowedOrigins))
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	lg.Info("server listening", "addr", addr)
	if err := router.Run(addr); err != nil {
		lg.Fatal("server stopped", "error", err)
	}
}

// openKeyValue picks the persistence backend named by basic_config.store.
func openKeyValue(cfg *config.Config) (storage.KeyValue, func(), error) {
	switch cfg.BasicConfig.Store {
	case "redis":
		rdb, err := redis.NewRedisClient(cfg)
		if err != nil {
			return nil, nil, err
		}
		return rdb, func() { _ = rdb.Close() }, nil
	case "sqlite3", "mysql":
		db, err := storage.Open(cfg.BasicConfig.Store, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := storage.Migrate(db, cfg.BasicConfig.Store); err != nil {
			closeDB(db)
			return nil, nil, err
		}
		return storage.NewSQLStore(db, cfg.BasicConfig.Store), func() { closeDB(db) }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store %q", cfg.BasicConfig.Store)
	}
}

func closeDB(db *sql.DB) {
	_ = db.Close()
}
