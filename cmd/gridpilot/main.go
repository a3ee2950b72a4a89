package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "github.com/gridpilot/gridpilot/internal/adapter/actor"
	"github.com/gridpilot/gridpilot/internal/bridge"
	"github.com/gridpilot/gridpilot/internal/config"
	"github.com/gridpilot/gridpilot/internal/core/actor"
	"github.com/gridpilot/gridpilot/internal/core/port"
	"github.com/gridpilot/gridpilot/internal/core/service"
	"github.com/gridpilot/gridpilot/internal/meter"
	"github.com/gridpilot/gridpilot/internal/server"
	"github.com/gridpilot/gridpilot/internal/state"
	"github.com/gridpilot/gridpilot/internal/util/actorutil"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	defer logger.Sync()

	// host state store, staleness helper and real power history
	store := state.NewMemoryStore()
	helper := state.NewHelper(store, logger)
	window := time.Duration(cfg.Regulation.LowestWindowMinutes+5) * time.Minute
	hist := state.NewMemoryHistory(window)
	if cfg.Regulation.RealPowerStateID != "" {
		hist.Track(store, cfg.Regulation.RealPowerStateID)
	}

	// vendor cloud bridge, engine capability when enabled
	var br *bridge.Bridge
	var gateway port.VendorGateway
	if cfg.Bridge.Enabled {
		br = bridge.New(cfg.Bridge, helper, logger)
		gateway = br
	}

	engine := service.NewEngine(cfg.Regulation, helper, hist, gateway, logger)

	meterProv, err := meterActorProvider(cfg, store, logger)
	if err != nil {
		panic(err)
	}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterActor(*cfg, store,
			bridgeActorProvider(cfg, br, logger),
			regulationActorProvider(cfg, engine, store, logger),
			meterProv, logger)
	})
	pid, err := ctx.SpawnNamed(props, "master")
	if err != nil {
		return
	}

	server := server.NewServer(*cfg, ctx, pid)
	done := make(chan bool, 1)

	go gracefulShutdown(server, done)

	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => GRIDPILOT_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("GRIDPILOT_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("gridpilot")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func bridgeActorProvider(cfg *config.Config, br *bridge.Bridge, logger *zap.Logger) actor.BridgeActorProvider {
	return func(es *eventstream.EventStream) *adactor.BridgeActor {
		return adactor.NewBridgeActor(cfg, br, es, logger)
	}
}

func regulationActorProvider(cfg *config.Config, engine *service.Engine, store port.StateStore, logger *zap.Logger) actor.RegulationActorProvider {
	return func(es *eventstream.EventStream) *actor.RegulationActor {
		return actor.NewRegulationActor(cfg, engine, store, es, logger)
	}
}

func meterActorProvider(cfg *config.Config, store port.StateStore, logger *zap.Logger) (actor.MeterActorProvider, error) {
	if !cfg.Meter.Enabled {
		return nil, nil
	}
	reader, err := meter.NewGridMeter(cfg.Meter.Host, cfg.Meter.Port, uint8(cfg.Meter.UnitID),
		1*time.Second, logger)
	if err != nil {
		return nil, err
	}
	return func() *adactor.MeterActor {
		return adactor.NewMeterActor(cfg, reader, store, logger)
	}, nil
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("port", 8080)
	viper.SetDefault("regulation.interval_seconds", 15)
	viper.SetDefault("regulation.base_offset_watts", 25)
	viper.SetDefault("regulation.meter_timeout_seconds", 120)
	viper.SetDefault("regulation.meter_fallback_watts", 0)
	viper.SetDefault("regulation.lowest_window_minutes", 2)
	viper.SetDefault("regulation.lowest_mode", "min")
	viper.SetDefault("regulation.strategy", "balanced")
	viper.SetDefault("regulation.feed_in_window_seconds", 60)
	viper.SetDefault("bridge.probe_timeout_seconds", 5)
	viper.SetDefault("bridge.silence_window_minutes", 5)
	viper.SetDefault("meter.poll_interval_millis", 5000)
}

func safePrintConfig(cfg config.Config) {
	cfg.Bridge.Email = "*redacted*"
	cfg.Bridge.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
