package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"OpenMCP-Bank/internal/agent"
	"OpenMCP-Bank/internal/api"
	"OpenMCP-Bank/internal/auth"
	"OpenMCP-Bank/internal/bank"
	"OpenMCP-Bank/internal/config"
	"OpenMCP-Bank/internal/knowledge"
	"OpenMCP-Bank/internal/llm"
	"OpenMCP-Bank/internal/llm/openai"
	"OpenMCP-Bank/internal/mcp"
	"OpenMCP-Bank/internal/observability/alerting"
	"OpenMCP-Bank/internal/observability/metrics"
	"OpenMCP-Bank/internal/operation"
	"OpenMCP-Bank/internal/ratelimit"
	"OpenMCP-Bank/internal/settlement"
	"OpenMCP-Bank/internal/storage/mysql"
	redisstore "OpenMCP-Bank/internal/storage/redis"
	"OpenMCP-Bank/internal/tools"
	"OpenMCP-Bank/internal/web3/provider"
	loggerpkg "OpenMCP-Bank/pkg/logger"
)

// main 是 OpenMCP-Bank 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("bankmcpd 运行失败: %v", err)
	}
}

// closers 按注册的逆序释放资源。
type closers []io.Closer

func (c *closers) add(closer io.Closer) { *c = append(*c, closer) }

func (c closers) closeAll() {
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil {
			loggerpkg.L().Warn("释放资源失败", slog.Any("error", err))
		}
	}
}

type closeFunc func()

func (f closeFunc) Close() error {
	f()
	return nil
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := loggerpkg.Init(loggerpkg.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: loggerpkg.AuditConfig{
			Enabled:   cfg.Logging.AuditPath != "",
			Path:      cfg.Logging.AuditPath,
			MaxSizeMB: cfg.Logging.AuditMaxMB,
			Compress:  true,
		},
	}); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer loggerpkg.Sync()
	logger := loggerpkg.Named("bankmcpd")

	var resources closers
	defer resources.closeAll()

	m := metrics.New()
	alerts := buildAlerts(cfg.Observability)

	bankStore, err := openBankStore(ctx, cfg.Storage.Bank, &resources)
	if err != nil {
		return err
	}
	operationStore, err := openOperationStore(ctx, cfg.Storage.Operations, &resources)
	if err != nil {
		return err
	}
	authSvc, err := openAuth(ctx, cfg.Auth, &resources)
	if err != nil {
		return err
	}

	catalog := tools.Catalog{Store: bankStore}
	if cfg.Web3.Enabled {
		chains, err := provider.NewRegistry(ctx, cfg.Web3)
		if err != nil {
			return err
		}
		resources.add(closeFunc(chains.Close))
		catalog.Chain = chains
		logger.Info("链上查询已启用", slog.Any("chains", chains.Chains()), slog.String("default", chains.DefaultChain()))
	}
	registry, err := tools.NewBankRegistry(catalog)
	if err != nil {
		return err
	}
	executor := tools.NewExecutor(registry,
		tools.WithTimeout(cfg.Agent.ToolTimeout()),
		tools.WithObserver(m.ObserveTool),
	)

	limiter, err := buildLimiter(ctx, cfg.RateLimit, m, &resources)
	if err != nil {
		return err
	}
	dispatcher, err := buildSettlement(ctx, cfg.Settlement, &resources)
	if err != nil {
		return err
	}
	gate := operation.NewGate(operationStore, bankStore, settlement.Observe(dispatcher, m.ObserveSettlement),
		operation.WithAlerts(alerts))

	kb, err := buildKnowledge(cfg.Knowledge)
	if err != nil {
		return err
	}
	model, modelErr := buildModel(cfg.LLM)
	if modelErr != nil {
		logger.Warn("模型未就绪，聊天将使用确定性回落", slog.String("error", modelErr.Error()))
	}

	orchestrator := agent.New(limiter, executor,
		agent.WithModel(model, modelErr),
		agent.WithAssembler(agent.NewAssembler(bankStore)),
		agent.WithGate(gate),
		agent.WithKnowledgeProvider(kb),
		agent.WithAlerts(alerts),
		agent.WithObserver(m),
		agent.WithMaxMessageLength(cfg.Agent.MaxMessageLength),
		agent.WithLLMTimeout(cfg.LLM.OpenAI.Timeout()+5*time.Second),
	)

	deps := api.Dependencies{
		Orchestrator: orchestrator,
		Gateway:      mcp.NewGateway(authSvc, executor),
		Gate:         gate,
		Auth:         authSvc,
	}
	if !cfg.Observability.DisableMetrics {
		deps.Metrics = m
	}
	server := api.NewServer(api.Config{
		Address:            cfg.Server.Address,
		ReadTimeout:        time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:       time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		AllowAnonymousChat: cfg.Agent.AllowAnonymousChat,
	}, deps)

	logger.Info("bankmcpd 启动",
		slog.String("auth_mode", cfg.Auth.Mode),
		slog.String("bank_store", cfg.Storage.Bank.Driver),
		slog.String("rate_limit", cfg.RateLimit.Driver),
		slog.String("settlement", cfg.Settlement.Driver),
		slog.String("llm", cfg.LLM.Provider),
	)
	return server.Start(ctx)
}

func loadConfig() (*config.Config, error) {
	path := os.Getenv(config.EnvPath)
	if path == "" {
		path = filepath.Join("configs", "bank.json")
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

func mysqlConfig(db config.DatabaseConfig) mysql.Config {
	return mysql.Config{
		DSN:             db.DSN,
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: time.Duration(db.ConnMaxLifetimeSeconds) * time.Second,
		ConnMaxIdleTime: time.Duration(db.ConnMaxIdleTimeSeconds) * time.Second,
		QueryTimeout:    time.Duration(db.QueryTimeoutSeconds) * time.Second,
	}
}

func openBankStore(ctx context.Context, db config.DatabaseConfig, res *closers) (bank.Store, error) {
	switch db.Driver {
	case "memory":
		return bank.NewMemoryStore(bank.DemoDataset(time.Now())), nil
	case "mysql":
		store, err := mysql.NewBankStore(ctx, mysqlConfig(db))
		if err != nil {
			return nil, err
		}
		res.add(store)
		return store, nil
	default:
		return nil, mysql.ErrUnsupportedDriver
	}
}

func openOperationStore(ctx context.Context, db config.DatabaseConfig, res *closers) (operation.Store, error) {
	switch db.Driver {
	case "memory":
		return operation.NewMemoryStore(), nil
	case "mysql":
		store, err := mysql.NewOperationStore(ctx, mysqlConfig(db))
		if err != nil {
			return nil, err
		}
		res.add(store)
		return store, nil
	default:
		return nil, mysql.ErrUnsupportedDriver
	}
}

func openAuth(ctx context.Context, cfg config.AuthConfig, res *closers) (*auth.Service, error) {
	seeds := make([]auth.Seed, 0, len(cfg.Seeds))
	for _, s := range cfg.Seeds {
		seeds = append(seeds, auth.Seed{Username: s.Username, Password: s.Password, ProfileID: s.ProfileID, Roles: s.Roles})
	}

	var store auth.Store
	switch cfg.Store.Driver {
	case "memory":
		memory, err := auth.NewMemoryStore(nil)
		if err != nil {
			return nil, err
		}
		store = memory
	case "mysql":
		users, err := mysql.NewAuthStore(ctx, mysqlConfig(cfg.Store))
		if err != nil {
			return nil, err
		}
		res.add(users)
		store = users
	default:
		return nil, mysql.ErrUnsupportedDriver
	}

	return auth.NewService(ctx, auth.Config{
		Mode: auth.Mode(cfg.Mode),
		JWT: auth.JWTOptions{
			Secret:    cfg.JWT.ResolveSecret(),
			Issuer:    cfg.JWT.Issuer,
			AccessTTL: cfg.JWT.TTL(),
		},
		Seeds: seeds,
	}, store)
}

func redisClientConfig(r config.RedisConfig) redisstore.Config {
	return redisstore.Config{Address: r.Address, Password: r.Password, DB: r.DB, DialTimeout: 3 * time.Second}
}

func buildLimiter(ctx context.Context, cfg config.RateLimitConfig, m *metrics.Metrics, res *closers) (ratelimit.Limiter, error) {
	policy := ratelimit.Policy{Limit: cfg.Limit, Window: cfg.Window()}
	switch cfg.Driver {
	case "memory":
		return ratelimit.NewMemoryLimiter(policy), nil
	case "redis":
		// 启动后 Redis 故障时放行，启动时不可达仍直接报错。
		client, err := redisstore.NewClient(ctx, redisClientConfig(cfg.Redis))
		if err != nil {
			return nil, err
		}
		res.add(client)
		return ratelimit.NewFailOpen(ratelimit.NewRedisLimiter(client, policy, cfg.Redis.Prefix), m.ObserveLimiterFailOpen), nil
	default:
		return nil, fmt.Errorf("未知的限流驱动: %s", cfg.Driver)
	}
}

func buildSettlement(ctx context.Context, cfg config.SettlementConfig, res *closers) (settlement.Dispatcher, error) {
	var (
		dispatcher settlement.Dispatcher
		err        error
	)
	switch cfg.Driver {
	case "log":
		dispatcher = settlement.NewLogDispatcher()
	case "redis":
		client, cerr := redisstore.NewClient(ctx, redisClientConfig(cfg.Redis))
		if cerr != nil {
			return nil, cerr
		}
		res.add(client)
		dispatcher, err = settlement.NewRedisDispatcher(client, cfg.Queue)
	case "rabbitmq":
		dispatcher, err = settlement.NewRabbitMQDispatcher(settlement.RabbitMQConfig{
			URL:     cfg.RabbitMQ.URL,
			Queue:   cfg.Queue,
			Durable: cfg.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("未知的结算驱动: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	res.add(dispatcher)
	return dispatcher, nil
}

func buildKnowledge(cfg config.KnowledgeConfig) (knowledge.Provider, error) {
	if cfg.Source == "" {
		return knowledge.DefaultProvider(cfg.MaxResults), nil
	}
	return knowledge.LoadStaticProvider(cfg.Source, cfg.MaxResults)
}

// buildModel 返回模型客户端，无法创建时返回原因，由编排器决定降级。
func buildModel(cfg config.LLMConfig) (llm.Client, error) {
	switch cfg.Provider {
	case "none":
		return nil, llm.NewUpstreamError(llm.KindNotConfigured, 0, llm.ErrNotConfigured)
	case "openai":
		client, err := openai.NewClient(openai.Config{
			APIKey:  cfg.OpenAI.ResolveAPIKey(),
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
			Timeout: cfg.OpenAI.Timeout(),
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, llm.NewUpstreamError(llm.KindNotConfigured, 0, fmt.Errorf("unsupported llm provider %q", cfg.Provider))
	}
}

func buildAlerts(cfg config.ObservabilityConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: loggerpkg.Named("alert")}}
	for _, url := range cfg.AlertWebhooks {
		if url == "" {
			continue
		}
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: url})
	}
	return alerting.NewFanout(notifiers...)
}
