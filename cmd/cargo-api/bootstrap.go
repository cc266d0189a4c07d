package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BearBump/CargoFlow/config"
	"github.com/BearBump/CargoFlow/internal/api/cargoapi"
	"github.com/BearBump/CargoFlow/internal/cache/rediscache"
	"github.com/BearBump/CargoFlow/internal/lifecycle"
	"github.com/BearBump/CargoFlow/internal/services/ingest"
	"github.com/BearBump/CargoFlow/internal/services/pickup"
	"github.com/BearBump/CargoFlow/internal/services/products"
	"github.com/BearBump/CargoFlow/internal/storage/pgcargo"
)

type cargoAPIApp struct {
	ctx     context.Context
	cancel  context.CancelFunc
	opts    cargoAPIOpts
	api     *cargoapi.API
	closeDB func()
}

func mustBootstrapCargoAPI() *cargoAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.CargoFlow.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	cacheTTL := time.Duration(cfg.CargoFlow.CurrentProductTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	statuses := mustLoadStatuses(st)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	productsSvc := products.New(st, statuses, rc, cacheTTL)
	ingestSvc := ingest.New(st, statuses)
	pickupSvc := pickup.New(st, statuses, rc)

	api := cargoapi.New(productsSvc, ingestSvc, pickupSvc, st)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &cargoAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: cargoAPIOpts{
			httpAddr: httpAddr,
		},
		api:     api,
		closeDB: st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgcargo.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgcargo.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

// mustLoadStatuses грузит справочник статусов один раз при старте.
// Отсутствующий обязательный статус — ошибка конфигурации БД, падаем сразу.
func mustLoadStatuses(st *pgcargo.Storage) lifecycle.StatusSet {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	list, err := st.ListStatuses(ctx)
	if err != nil {
		panic(fmt.Sprintf("загрузка статусов: %v", err))
	}
	statuses := lifecycle.NewStatusSet(list)
	if err := statuses.Validate(); err != nil {
		panic(fmt.Sprintf("справочник статусов: %v", err))
	}
	return statuses
}

func (a *cargoAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *cargoAPIApp) Run() error {
	return runCargoAPI(a.ctx, a.opts, a.api)
}
