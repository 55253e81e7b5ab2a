package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"tetrecs/internal/bot"
	"tetrecs/internal/client"
	"tetrecs/internal/config"
	"tetrecs/internal/multiplayer"
	"tetrecs/internal/protocol"
	"tetrecs/internal/scores"
)

var (
	configPath = flag.String("config", config.GetEnv("TETRECS_CONFIG", ""), "path to YAML config")
	startDelay = flag.Duration("wait", 0, "how long a hosting bot waits for players before starting")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := cfg.Logger()
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar().With("nick", cfg.Bot.Nick)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := client.Dial(ctx, cfg.Bot.URL, sugar.Named("client"))
	if err != nil {
		sugar.Fatalw("connect", "error", err)
	}
	defer conn.Close()

	host, err := bot.Join(ctx, conn, cfg.Bot.Nick, cfg.Bot.Channel)
	if err != nil {
		sugar.Fatalw("join", "channel", cfg.Bot.Channel, "error", err)
	}
	sugar.Infow("joined", "channel", cfg.Bot.Channel, "host", host)

	res, err := bot.Play(ctx, conn, host, bot.Options{
		Nick:       cfg.Bot.Nick,
		Channel:    cfg.Bot.Channel,
		Think:      cfg.Bot.Think,
		StartDelay: *startDelay,
		Match: multiplayer.Config{
			Cols:           cfg.Game.Cols,
			Rows:           cfg.Game.Rows,
			Lives:          cfg.Game.Lives,
			PieceTimeout:   cfg.Game.PieceTimeout,
			PieceAttempts:  cfg.Game.PieceAttempts,
			ScoresInterval: cfg.Game.ScoresInterval,
		},
		Logger: sugar.Named("bot"),
	})
	if err != nil {
		sugar.Fatalw("play", "error", err)
	}

	table, err := scores.Load(cfg.Bot.ScoresFile)
	if err != nil {
		sugar.Warnw("load local scores", "error", err)
		table = scores.Default()
	}
	if table, ok := table.Insert(cfg.Bot.Nick, res.Score); ok {
		if err := table.Save(cfg.Bot.ScoresFile); err != nil {
			sugar.Warnw("save local scores", "error", err)
		}
	}
	if res.Score > 0 {
		line := protocol.Format(protocol.HiScore, protocol.FormatHiScores([]protocol.NameScore{{Name: cfg.Bot.Nick, Score: res.Score}}))
		if err := conn.Send(line); err != nil {
			sugar.Warnw("submit high score", "error", err)
		}
	}
	conn.Send(protocol.Quit)
	sugar.Infow("finished", "score", res.Score, "level", res.Level, "placed", res.Placed)
}
