package bootstrap

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	chclient "abbot/internal/adapters/clickhouse"
	"abbot/internal/adapters/config"
	"abbot/internal/adapters/kafka"
	"abbot/internal/adapters/llm"
	"abbot/internal/adapters/payments"
	"abbot/internal/adapters/payments/lnbits"
	"abbot/internal/adapters/payments/opennode"
	"abbot/internal/adapters/payments/strike"
	pgclient "abbot/internal/adapters/postgres"
	"abbot/internal/adapters/pricefeed"
	redisclient "abbot/internal/adapters/redis"
	"abbot/internal/adapters/telegram"
	"abbot/internal/domain/balance"
	"abbot/internal/domain/invoice"
	"abbot/internal/domain/usage"
	"abbot/internal/metrics"
	chrepo "abbot/internal/repository/clickhouse"
	"abbot/internal/repository/memory"
	pgrepo "abbot/internal/repository/postgres"
	redisrepo "abbot/internal/repository/redis"
	"abbot/internal/services/chat"
	"abbot/internal/services/funding"
	"abbot/internal/services/ledger"
	"abbot/internal/services/meter"
	"abbot/internal/services/oracle"
	"abbot/internal/workers"
	"abbot/pkg/errors"
	"abbot/pkg/logger"
)

// Container holds all application dependencies and their lifecycle
// Components are organized in initialization order
type Container struct {
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure Layer (optional data stores)
	PG    *pgclient.Client
	CH    *chclient.Client
	Redis *redisclient.Client

	// Domain Layer - Repositories
	Repos *Repositories

	// Domain Layer - Services
	Services *Services

	// External Adapters
	Adapters *Adapters

	// Application Layer
	Bot     *telegram.Bot
	Handler *telegram.Handler

	// Background Processing
	Scheduler     *workers.Scheduler
	MetricsServer *http.Server

	// Lifecycle management
	WG      *sync.WaitGroup
	Context context.Context
	Cancel  context.CancelFunc
}

// Repositories groups all domain repositories
type Repositories struct {
	Balance balance.Repository
	Invoice invoice.Repository
	Usage   usage.Repository // nil when ClickHouse is disabled
	Pending invoice.PendingRegistry

	// ClickHouse repository handle for batch writer lifecycle
	UsageCH *chrepo.UsageRepository
}

// Services groups all domain services
type Services struct {
	Oracle  *oracle.Service
	Ledger  *ledger.Service
	Meter   *meter.Service
	Chat    *chat.Service
	Funding *funding.Service
}

// Adapters groups all external adapters
type Adapters struct {
	KafkaProducer *kafka.Producer // nil when Kafka is disabled
	Processor     payments.Processor
	Completer     llm.Completer
	PriceSource   pricefeed.Source

	// PaymentWatcher streams LNbits payment confirmations; nil for other processors
	PaymentWatcher *lnbits.PaymentWatcher
}

// NewContainer creates a new dependency container
func NewContainer() *Container {
	ctx, cancel := context.WithCancel(context.Background())

	return &Container{
		Repos:    &Repositories{},
		Services: &Services{},
		Adapters: &Adapters{},
		WG:       &sync.WaitGroup{},
		Context:  ctx,
		Cancel:   cancel,
	}
}

// MustInit initializes all components in the correct order
// Panics on any initialization error (fail-fast at startup)
func (c *Container) MustInit(cfg *config.Config, tracker errors.Tracker) {
	c.Config = cfg
	c.Log = logger.Get()
	c.ErrorTracker = tracker

	c.mustInitInfrastructure()
	c.mustInitRepositories()
	c.mustInitAdapters()
	c.mustInitServices()
	c.mustInitApplication()
	c.mustInitBackground()
}

func (c *Container) mustInitInfrastructure() {
	if c.Config.Postgres.Enabled() {
		pg, err := pgclient.NewClient(c.Config.Postgres)
		if err != nil {
			c.Log.Fatalf("Failed to connect to PostgreSQL: %v", err)
		}
		c.PG = pg
		c.Log.Info("✓ PostgreSQL connected")
	} else {
		c.Log.Warn("PostgreSQL not configured, using in-memory storage")
	}

	if c.Config.ClickHouse.Enabled() {
		ch, err := chclient.NewClient(c.Config.ClickHouse)
		if err != nil {
			c.Log.Fatalf("Failed to connect to ClickHouse: %v", err)
		}
		c.CH = ch
		c.Log.Info("✓ ClickHouse connected")
	}

	if c.Config.Redis.Enabled() {
		rc, err := redisclient.NewClient(c.Config.Redis)
		if err != nil {
			c.Log.Fatalf("Failed to connect to Redis: %v", err)
		}
		c.Redis = rc
		c.Log.Info("✓ Redis connected")
	}
}

func (c *Container) mustInitRepositories() {
	if c.PG != nil {
		c.Repos.Balance = pgrepo.NewBalanceRepository(c.PG.DB())
		c.Repos.Invoice = pgrepo.NewInvoiceRepository(c.PG.DB())
	} else {
		c.Repos.Balance = memory.NewBalanceRepository()
		c.Repos.Invoice = memory.NewInvoiceRepository()
	}

	if c.Redis != nil {
		c.Repos.Pending = redisrepo.NewPendingInvoiceRegistry(c.Redis.Client())
	} else {
		c.Repos.Pending = memory.NewPendingRegistry()
	}

	if c.CH != nil {
		c.Repos.UsageCH = chrepo.NewUsageRepository(c.CH.Conn())
		c.Repos.Usage = c.Repos.UsageCH
	}
}

func (c *Container) mustInitAdapters() {
	if c.Config.Kafka.Enabled() {
		c.Adapters.KafkaProducer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers: c.Config.Kafka.Brokers,
		})
		c.Log.Info("✓ Kafka producer initialized")
	}

	c.Adapters.PriceSource = pricefeed.NewCoinGecko(pricefeed.CoinGeckoConfig{
		FetchTimeout: c.Config.Oracle.FetchTimeout,
	})

	c.Adapters.Processor = c.mustInitProcessor()
	c.Adapters.Completer = c.mustInitCompleter()
}

// mustInitProcessor selects the one payment processor for this deployment
func (c *Container) mustInitProcessor() payments.Processor {
	kind, ok := payments.ParseKind(c.Config.Payments.Processor)
	if !ok {
		c.Log.Fatalf("Unknown payment processor: %s", c.Config.Payments.Processor)
	}

	switch kind {
	case payments.KindStrike:
		p, err := strike.NewClient(strike.Config{
			APIKey:  c.Config.Payments.StrikeAPIKey,
			BaseURL: c.Config.Payments.StrikeBaseURL,
		})
		if err != nil {
			c.Log.Fatalf("Failed to initialize Strike: %v", err)
		}
		return p

	case payments.KindLNbits:
		client, err := lnbits.NewClient(lnbits.Config{
			APIKey:  c.Config.Payments.LNbitsAPIKey,
			BaseURL: c.Config.Payments.LNbitsBaseURL,
		})
		if err != nil {
			c.Log.Fatalf("Failed to initialize LNbits: %v", err)
		}
		// LNbits pushes payment confirmations over websocket; the poll loop
		// stays authoritative and this only accelerates settlement.
		c.Adapters.PaymentWatcher = lnbits.NewPaymentWatcher(lnbits.Config{
			APIKey:  c.Config.Payments.LNbitsAPIKey,
			BaseURL: c.Config.Payments.LNbitsBaseURL,
		}, func(paymentHash string) {
			c.Services.Funding.HandleExternalPayment(paymentHash)
		})
		return client

	case payments.KindOpenNode:
		p, err := opennode.NewClient(opennode.Config{
			APIKey:  c.Config.Payments.OpenNodeAPIKey,
			BaseURL: c.Config.Payments.OpenNodeBaseURL,
		})
		if err != nil {
			c.Log.Fatalf("Failed to initialize OpenNode: %v", err)
		}
		return p
	}

	c.Log.Fatalf("Unhandled payment processor: %s", kind)
	return nil
}

func (c *Container) mustInitCompleter() llm.Completer {
	switch c.Config.AI.Provider {
	case "openai":
		completer, err := llm.NewOpenAICompleter(c.Config.AI.OpenAIKey, c.Config.AI.Model, 2*time.Minute)
		if err != nil {
			c.Log.Fatalf("Failed to initialize OpenAI: %v", err)
		}
		return completer

	case "gemini":
		completer, err := llm.NewGeminiCompleter(c.Context, c.Config.AI.GeminiKey, c.Config.AI.Model, 2*time.Minute)
		if err != nil {
			c.Log.Fatalf("Failed to initialize Gemini: %v", err)
		}
		return completer
	}

	c.Log.Fatalf("Unknown AI provider: %s", c.Config.AI.Provider)
	return nil
}

func (c *Container) mustInitServices() {
	c.Services.Oracle = oracle.NewService(c.Adapters.PriceSource, oracle.Config{
		StalenessWindow: c.Config.Oracle.StalenessWindow,
	})

	c.Services.Ledger = ledger.NewService(c.Repos.Balance)

	inputPrice, err := decimal.NewFromString(c.Config.Meter.InputUSDPer1K)
	if err != nil {
		c.Log.Fatalf("Invalid METER_INPUT_USD_PER_1K: %v", err)
	}
	outputPrice, err := decimal.NewFromString(c.Config.Meter.OutputUSDPer1K)
	if err != nil {
		c.Log.Fatalf("Invalid METER_OUTPUT_USD_PER_1K: %v", err)
	}

	var usageEvents meter.EventPublisher
	if c.Adapters.KafkaProducer != nil {
		usageEvents = c.Adapters.KafkaProducer
	}

	c.Services.Meter = meter.NewService(c.Services.Ledger, c.Services.Oracle, c.Repos.Usage, usageEvents, meter.Config{
		InputUSDPer1K:  inputPrice,
		OutputUSDPer1K: outputPrice,
	})

	c.Services.Chat = chat.NewService(c.Adapters.Completer, c.Services.Ledger, c.Services.Meter, chat.Config{
		SystemPrompt: c.Config.AI.SystemPrompt,
		MaxHistory:   c.Config.AI.MaxHistory,
	})
}

func (c *Container) mustInitApplication() {
	bot, err := telegram.NewBot(telegram.Config{
		Token: c.Config.Telegram.BotToken,
		Debug: c.Config.App.Debug,
	}, c.Log)
	if err != nil {
		c.Log.Fatalf("Failed to create Telegram bot: %v", err)
	}
	c.Bot = bot

	var events funding.EventPublisher = noopPublisher{}
	if c.Adapters.KafkaProducer != nil {
		events = c.Adapters.KafkaProducer
	}

	c.Services.Funding = funding.NewService(
		c.Adapters.Processor,
		c.Services.Oracle,
		c.Services.Ledger,
		c.Repos.Invoice,
		c.Repos.Pending,
		telegram.NewNotifier(bot),
		events,
		funding.Config{
			PollInterval:       c.Config.Funding.PollInterval,
			FailureThreshold:   c.Config.Funding.FailureThreshold,
			FallbackAddress:    c.Config.Funding.FallbackAddress,
			PendingGrace:       c.Config.Funding.PendingGrace,
			InvoiceDescription: c.Config.Funding.InvoiceDescription,
		},
	)

	c.Handler = telegram.NewHandler(bot, c.Services.Chat, c.Services.Funding, c.Services.Ledger)
	bot.SetMessageHandler(c.Handler.HandleUpdate)
}

func (c *Container) mustInitBackground() {
	c.Scheduler = workers.NewScheduler()
	c.Scheduler.RegisterWorker(workers.NewRateRefresherWorker(c.Services.Oracle, c.Config.Workers.RateRefreshInterval))
	c.Scheduler.RegisterWorker(workers.NewInvoiceJanitorWorker(c.Repos.Invoice, c.Config.Funding.JanitorInterval, c.Config.Funding.TerminalRetention))
}

// Start starts all background components and the bot
func (c *Container) Start() error {
	c.Log.Info("Starting all systems...")

	if c.Config.Metrics.Enabled {
		metrics.Register()
		c.MetricsServer = metrics.Serve(c.Config.Metrics.Addr)
		c.Log.Infow("✓ Metrics endpoint started", "addr", c.Config.Metrics.Addr)
	}

	if c.Repos.UsageCH != nil {
		c.Repos.UsageCH.Start(c.Context)
	}

	c.Services.Funding.Start(c.Context)

	if c.Adapters.PaymentWatcher != nil {
		c.WG.Add(1)
		go func() {
			defer c.WG.Done()
			c.Adapters.PaymentWatcher.Run(c.Context)
		}()
	}

	if err := c.Scheduler.Start(c.Context); err != nil {
		return errors.Wrap(err, "failed to start workers")
	}

	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := c.Bot.Start(c.Context); err != nil {
			c.Log.Errorf("Telegram bot failed: %v", err)
			c.Cancel()
		}
	}()

	c.Log.Info("✓ All systems operational")
	return nil
}

// Shutdown performs graceful shutdown in the correct order
func (c *Container) Shutdown() {
	c.Log.Info("Initiating graceful shutdown...")

	// Signal the bot, watcher, workers and pollers to stop. Pollers exit
	// without closing invoices: pending invoices stay pending.
	c.Cancel()

	if err := c.Scheduler.Stop(); err != nil {
		c.Log.Warnf("Worker shutdown: %v", err)
	}

	if err := c.Services.Funding.Stop(30 * time.Second); err != nil {
		c.Log.Warnf("Funding shutdown: %v", err)
	}

	if c.Repos.UsageCH != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := c.Repos.UsageCH.Stop(ctx); err != nil {
			c.Log.Warnf("Usage batch writer shutdown: %v", err)
		}
		cancel()
	}

	if c.MetricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = c.MetricsServer.Shutdown(ctx)
		cancel()
	}

	c.WG.Wait()

	if c.Adapters.KafkaProducer != nil {
		if err := c.Adapters.KafkaProducer.Close(); err != nil {
			c.Log.Warnf("Kafka producer close: %v", err)
		}
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.CH != nil {
		_ = c.CH.Close()
	}
	if c.PG != nil {
		_ = c.PG.Close()
	}

	if c.ErrorTracker != nil {
		_ = c.ErrorTracker.Flush(context.Background())
	}

	c.Log.Info("Shutdown complete")
}

// noopPublisher drops events when Kafka is not configured
type noopPublisher struct{}

func (noopPublisher) Publish(ctx context.Context, topic string, key string, event interface{}) error {
	return nil
}
