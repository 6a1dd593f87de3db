package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/consensys/gnark/constraint"
	"github.com/ethereum/go-ethereum/common"

	"SignalAttest/internal/api"
	"SignalAttest/internal/circuits"
	"SignalAttest/internal/config"
	"SignalAttest/internal/events"
	"SignalAttest/internal/registry"
	"SignalAttest/internal/setup"
	"SignalAttest/internal/storage/mysql"
	"SignalAttest/pkg/logger"
)

// main 是证明注册服务的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("attestd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("ATTESTD_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "attestd.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()
	lg := logger.Named("attestd")

	// 加载或生成两套电路密钥。
	artifactStore, err := setup.NewArtifactStore(cfg.Artifacts.DataDir)
	if err != nil {
		return err
	}
	modelKS, err := ensureKeySet(artifactStore, circuits.ModelCircuitName, circuits.CompileModel)
	if err != nil {
		return err
	}
	signalKS, err := ensureKeySet(artifactStore, circuits.SignalCircuitName, circuits.CompileSignal)
	if err != nil {
		return err
	}
	lg.Info("circuit keys ready",
		"model_circuit", modelKS.CircuitName,
		"signal_circuit", signalKS.CircuitName)

	// 注册表存储。
	var store registry.Store
	switch cfg.Registry.Driver {
	case "memory", "":
		store = registry.NewMemoryStore()
	case "mysql":
		sqlStore, err := mysql.NewAttestationStore(ctx, mysql.Config{
			DSN:             cfg.Registry.DSN,
			MaxOpenConns:    cfg.Registry.MaxOpenConns,
			MaxIdleConns:    cfg.Registry.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Registry.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.Registry.ConnMaxIdleTimeSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		store = sqlStore
	default:
		return fmt.Errorf("不支持的 registry driver: %s", cfg.Registry.Driver)
	}
	defer store.Close()

	// 事件通道。
	var publisher events.Publisher
	switch cfg.Events.Driver {
	case "memory", "":
		publisher = events.NewMemoryPublisher()
	case "redis":
		publisher, err = events.NewRedisPublisher(events.RedisConfig{
			Address:  cfg.Events.Redis.Address,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
			List:     cfg.Events.Redis.List,
		})
		if err != nil {
			return err
		}
	case "rabbitmq":
		publisher, err = events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:        cfg.Events.RabbitMQ.URL,
			Queue:      cfg.Events.RabbitMQ.Queue,
			Durable:    cfg.Events.RabbitMQ.Durable,
			AutoDelete: cfg.Events.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("不支持的 events driver: %s", cfg.Events.Driver)
	}
	defer publisher.Close()

	reg, err := registry.New(ctx, registry.Params{
		Store:           store,
		Verifier:        registry.NewVerifier(modelKS, signalKS),
		Publisher:       publisher,
		Deployer:        common.HexToAddress(cfg.Registry.Deployer),
		FreshnessWindow: time.Duration(cfg.Registry.FreshnessWindowSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	keys := make(map[string]common.Address, len(cfg.Attesters))
	for _, attester := range cfg.Attesters {
		keys[attester.APIKey] = common.HexToAddress(attester.Address)
	}

	server := api.NewServer(cfg.Server.Address, reg, keys)
	lg.Info("attestd listening", "address", cfg.Server.Address)
	return server.Start(ctx)
}

// ensureKeySet 加载已持久化的密钥，缺失时运行本地典礼生成。
// 已有密钥绝不覆盖，电路哈希不一致直接启动失败。
func ensureKeySet(store *setup.ArtifactStore, name string, compile func() (constraint.ConstraintSystem, error)) (*setup.KeySet, error) {
	ccs, err := compile()
	if err != nil {
		return nil, err
	}
	if setup.HasKeys(store, name) {
		return setup.LoadKeySet(store, name, ccs)
	}

	ceremony, err := setup.NewCeremony(name, ccs)
	if err != nil {
		return nil, err
	}
	// 单机模式下由本进程贡献一次随机性，生产部署应替换为多方典礼。
	randomness := make([]byte, 32)
	if _, err := rand.Read(randomness); err != nil {
		return nil, err
	}
	if err := ceremony.Contribute("attestd-local", randomness); err != nil {
		return nil, err
	}
	return ceremony.Finalize(store)
}
