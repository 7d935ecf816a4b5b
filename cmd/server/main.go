package main

import (
	"context"

	"roomcast/internal/activity"
	"roomcast/internal/bus"
	"roomcast/internal/config"
	"roomcast/internal/db"
	clog "roomcast/internal/log"
	"roomcast/internal/notify"
	"roomcast/internal/presence"
	"roomcast/internal/server"
	"roomcast/internal/service"

	"github.com/rs/zerolog/log"
)

func main() {
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	var b bus.Bus
	if cfg.BusURL != "" {
		b, err = bus.ConnectNats(cfg.BusURL)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.BusURL).Msg("bus connect")
		}
	} else {
		b = bus.NewMemory()
	}
	defer b.Close()

	trigger := notify.NewTrigger(notify.NewGormDirectory(gdb), notify.LogNotifier{})
	obs := activity.NewObserver(b, trigger)
	svc := service.NewServices(gdb, cfg, obs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sweeper := presence.NewSweeper(svc, cfg.PresenceSweepInterval, cfg.PresenceStaleAfter)
	go sweeper.Run(ctx)

	r := server.SetupRouter(cfg, gdb, svc, b)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
}
