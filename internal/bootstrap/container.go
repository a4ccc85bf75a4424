package bootstrap

import (
	"context"
	"fmt"
	"time"

	"ai-docqa-be/internal/config"
	"ai-docqa-be/internal/controller"
	"ai-docqa-be/internal/handler"
	"ai-docqa-be/internal/metrics"
	"ai-docqa-be/internal/pkg/logger"
	"ai-docqa-be/internal/pkg/serverutils"
	"ai-docqa-be/internal/repository/contract"
	"ai-docqa-be/internal/repository/memory"
	"ai-docqa-be/internal/repository/redisstore"
	"ai-docqa-be/internal/service"
	"ai-docqa-be/internal/websocket"
	"ai-docqa-be/pkg/assistant/openai"
	"ai-docqa-be/pkg/docqa"
	"ai-docqa-be/pkg/events"
	pktNats "ai-docqa-be/pkg/nats"
	"ai-docqa-be/pkg/poller"
	"ai-docqa-be/pkg/store"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
)

type Container struct {
	// Controllers
	SessionController controller.ISessionController
	DocQAController   controller.IDocQAController
	RealtimeHandler   *handler.RealtimeHandler

	// Background Services (Exposed for main.go to run)
	ConsumerService service.IConsumerService
	OrphanCollector service.IOrphanCollector // nil without NATS
	WebSocketHub    *websocket.Hub

	Metrics *metrics.Metrics
	Logger  logger.ILogger

	closers []func()
}

func NewContainer(cfg *config.Config) (*Container, error) {
	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction())
	wsLogger := logger.NewIsolatedLogger(cfg.App.RealtimeLogPath)
	m := metrics.New()

	c := &Container{Metrics: m, Logger: sysLogger}
	// runs last on Close
	c.closers = append(c.closers, func() {
		_ = sysLogger.Sync()
		_ = wsLogger.Sync()
	})

	// 2. Event Bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 256},
		watermillLogger,
	)
	c.closers = append(c.closers, func() { _ = pubSub.Close() })
	publisherService := service.NewPublisherService(cfg.App.EventTopic, pubSub)

	// NATS is optional; events still reach websocket clients without it
	var forwarder events.Publisher
	natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL)
	if err != nil {
		sysLogger.Warn("Bootstrap", "NATS unavailable, events stay in-process", map[string]interface{}{"error": err.Error()})
	} else {
		forwarder = natsPub
		c.closers = append(c.closers, natsPub.Close)
	}

	// Redis
	rdb, err := connectRedis(cfg.App.RedisURL)
	if err != nil {
		if cfg.Session.Store == "redis" {
			return nil, fmt.Errorf("redis session store: %w", err)
		}
		sysLogger.Warn("Bootstrap", "Redis unavailable, websocket hub runs single-instance", map[string]interface{}{"error": err.Error()})
		rdb = nil
	} else {
		c.closers = append(c.closers, func() { _ = rdb.Close() })
	}

	// WebSocket Hub
	wsHub := websocket.NewHub(rdb, wsLogger)
	c.WebSocketHub = wsHub

	c.ConsumerService = service.NewConsumerService(
		pubSub,
		cfg.App.EventTopic,
		wsHub,
		forwarder,
		m,
		sysLogger,
	)

	// 3. Remote assistant
	provider := openai.NewOpenAIProvider(openai.Config{
		APIKey:          cfg.OpenAI.APIKey,
		BaseURL:         cfg.OpenAI.BaseURL,
		TranscribeModel: cfg.OpenAI.TranscribeModel,
		SpeechModel:     cfg.OpenAI.TTSModel,
		Voice:           cfg.OpenAI.TTSVoice,
		MaxRetries:      cfg.OpenAI.MaxRetries,
		RequestTimeout:  cfg.OpenAI.RequestTimeout,
	})

	verifyCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	model, err := provider.VerifyAssistant(verifyCtx, cfg.OpenAI.AssistantID)
	cancel()
	if err != nil {
		sysLogger.Warn("Bootstrap", "Could not verify assistant", map[string]interface{}{
			"assistant_id": cfg.OpenAI.AssistantID,
			"error":        err.Error(),
		})
	} else {
		sysLogger.Info("Bootstrap", "Assistant verified", map[string]interface{}{
			"assistant_id": cfg.OpenAI.AssistantID,
			"model":        model,
		})
	}

	if forwarder != nil {
		natsSub, err := pktNats.NewSubscriber(cfg.App.NatsURL, sysLogger)
		if err != nil {
			sysLogger.Warn("Bootstrap", "NATS subscriber unavailable, orphans are only logged", map[string]interface{}{"error": err.Error()})
		} else {
			c.OrphanCollector = service.NewOrphanCollector(natsSub, provider, 5, sysLogger)
			c.closers = append(c.closers, natsSub.Close)
		}
	}

	// 4. Session store
	var repo contract.SessionRepository
	var memRepo *memory.SessionRepository
	switch cfg.Session.Store {
	case "redis":
		repo = redisstore.NewSessionRepository(rdb, cfg.Session.TTL)
	default:
		memRepo = memory.NewSessionRepository(cfg.Session.TTL)
		repo = memRepo
	}

	// 5. Domain
	answerPoller := poller.New(cfg.Poller.Interval, cfg.Poller.Ceiling, poller.WithObserver(m.PollObserver()))
	indexPoller := answerPoller.WithCeiling(cfg.Poller.IndexCeiling)

	opts := []docqa.Option{
		docqa.WithSaver(repo),
		docqa.WithPublisher(publisherService),
		docqa.WithLogger(sysLogger),
		docqa.WithIndexPoller(indexPoller),
		docqa.WithBusyStaleAfter(cfg.Session.BusyStaleAfter),
	}
	if cfg.OpenAI.ThreadID != "" {
		opts = append(opts, docqa.WithSharedHandles(cfg.OpenAI.VectorStoreID, cfg.OpenAI.ThreadID))
	}
	qaController := docqa.NewController(provider, answerPoller, cfg.OpenAI.AssistantID, opts...)

	tokens := serverutils.NewSessionTokens(cfg.Session.JWTSecret, cfg.Session.TTL)
	docqaService := service.NewDocQAService(qaController, provider, repo, tokens, m, sysLogger)

	if memRepo != nil {
		// release may wait for an in-flight turn; keep the janitor free
		memRepo.OnEvicted(func(s *store.Session) { go docqaService.ReleaseExpired(s) })
	}

	// 6. Controllers
	c.SessionController = controller.NewSessionController(docqaService)
	c.DocQAController = controller.NewDocQAController(docqaService, tokens)
	c.RealtimeHandler = handler.NewRealtimeHandler(wsHub, tokens, wsLogger)

	return c, nil
}

// Close releases connections in reverse order of creation.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func connectRedis(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		opt = &redis.Options{Addr: url}
	}
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}
