package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"carechat/configs"
	"carechat/internal/feed"
	"carechat/internal/handlers"
	"carechat/internal/interfaces"
	"carechat/internal/logging"
	"carechat/internal/realtime"
	"carechat/internal/repositories"
	"carechat/internal/servers/database"
	"carechat/internal/servers/http"
	"carechat/internal/services"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	app  *App
	once sync.Once
)

type App struct {
	configs   *configs.Config
	logger    zerolog.Logger
	clock     clockwork.Clock
	redis     *redis.Client
	store     interfaces.ChatStore
	directory interfaces.DirectoryStore
	feed      interfaces.Feed
}

func GetApp() *App {
	once.Do(func() {
		app = &App{}
	})
	return app
}

func (app *App) LetsGo() {
	app.initializeConfigs()
	app.initializeLogger()
	app.clock = clockwork.NewRealClock()

	if err := app.initializeStore(); err != nil {
		app.logger.Fatal().Err(err).Msg("store unavailable")
	}
	app.initializeFeed()
	defer app.closeRedis()

	chat := app.configs.Chat()
	component := func(name string) zerolog.Logger { return logging.Component(app.logger, name) }

	registry := services.NewConversationRegistry(app.store, app.directory, app.feed, app.clock, chat.FamilyChannelName, component("registry"))
	messageLog := services.NewMessageLog(app.store, app.feed, app.clock, component("messages"))
	receipts := services.NewReadReceiptTracker(app.store, app.feed, app.clock, component("receipts"))
	unread := services.NewUnreadCounter(app.store)
	presence := services.NewPresenceHub(app.feed, app.clock, chat.TypingTTL, component("presence"))
	defer presence.Close()

	profiles := services.NewProfileService(
		app.directory,
		app.initializeAvatars(),
		app.configs.Viper.GetInt("profiles.cache_size"),
		app.configs.Viper.GetDuration("profiles.cache_ttl"),
		component("profiles"),
	)
	chatService := services.NewChatService(app.store, registry, messageLog, receipts, unread, presence, profiles, chat.FetchTimeout, component("chat"))

	jwtSecret := app.configs.Viper.GetString("jwt.secret")
	if jwtSecret == "" {
		app.logger.Fatal().Msg("jwt.secret is not configured")
	}
	handler := handlers.NewHandler(
		[]byte(jwtSecret),
		app.configs.Viper.GetFloat64("rate_limit.rps"),
		app.configs.Viper.GetInt("rate_limit.burst"),
		component("http"),
	)
	restHandler := handlers.NewRestHandler(chatService, map[string]handlers.Pinger{
		"store": app.store,
		"feed":  app.feed,
	}, component("rest"))
	socketChatHandler := handlers.NewSocketChatHandler(chatService, app.feed, app.clock, realtime.Options{
		QueueSize:      chat.QueueSize,
		BackoffInitial: chat.BackoffInitial,
		BackoffMax:     chat.BackoffMax,
		TypingTTL:      chat.TypingTTL,
		AutoMarkRead:   true,
	}, component("socket"))

	server := http.NewHttpServer(
		app.configs.Viper.GetInt("server.port"),
		handler,
		restHandler,
		socketChatHandler,
		component("server"),
	)
	if err := server.Run(); err != nil {
		app.logger.Error().Err(err).Msg("server stopped")
	}
}

func (app *App) initializeConfigs() {
	app.configs = configs.GetConfig()
}

func (app *App) initializeLogger() {
	app.logger = logging.New(
		app.configs.Viper.GetString("log.level"),
		app.configs.Viper.GetBool("log.pretty"),
	)
}

func (app *App) initializeStore() error {
	switch driver := app.configs.Viper.GetString("store.driver"); driver {
	case "memory":
		app.logger.Warn().Msg("using in-memory store, data is lost on restart")
		app.store = repositories.NewMemoryChatRepository(app.clock)
		app.directory = repositories.NewMemoryDirectoryRepository()
	case "postgres":
		db, err := database.Open(app.configs, logging.Component(app.logger, "database"))
		if err != nil {
			return err
		}
		app.store = repositories.NewChatRepository(db)
		app.directory = repositories.NewDirectoryRepository(db)
	default:
		return fmt.Errorf("unknown store driver %q", driver)
	}
	return nil
}

func (app *App) initializeFeed() {
	queueSize := app.configs.Viper.GetInt("feed.queue_size")
	if app.configs.Viper.GetString("feed.driver") == "memory" {
		app.feed = feed.NewMemoryFeed(queueSize)
		return
	}
	app.redis = redis.NewClient(&redis.Options{
		Addr:     app.configs.Viper.GetString("redis.addr"),
		Password: app.configs.Viper.GetString("redis.password"),
		DB:       app.configs.Viper.GetInt("redis.db"),
	})
	if err := app.redis.Ping(context.Background()).Err(); err != nil {
		// The feed reconnects on its own; sessions stay disconnected until then.
		app.logger.Warn().Err(err).Msg("redis not reachable yet")
	}
	app.feed = feed.NewRedisFeed(
		app.redis,
		queueSize,
		app.configs.Viper.GetDuration("redis.health_check_interval"),
		logging.Component(app.logger, "feed"),
	)
}

func (app *App) initializeAvatars() interfaces.AvatarResolver {
	if app.configs.Viper.GetString("minio.endpoint") == "" {
		return nil
	}
	client, err := services.NewMinioClient(app.configs)
	if err != nil {
		app.logger.Warn().Err(err).Msg("avatar storage disabled")
		return nil
	}
	avatars := services.NewMinioService(
		client,
		app.configs.Viper.GetString("minio.bucket"),
		app.configs.Viper.GetDuration("minio.url_expiry"),
		logging.Component(app.logger, "avatars"),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := avatars.EnsureBucket(ctx); err != nil {
		app.logger.Warn().Err(err).Msg("avatar bucket not ready")
	}
	return avatars
}

func (app *App) closeRedis() {
	if app.redis == nil {
		return
	}
	if err := app.redis.Close(); err != nil {
		app.logger.Debug().Err(err).Msg("redis close")
	}
}
