package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	server "github.com/raftd"
	"github.com/raftd/admin"
	"github.com/raftd/config"
	"github.com/raftd/db"
	"github.com/raftd/storage"
	"github.com/raftd/transport"
)

func main() {
	var (
		configFile = flag.String("config", "config.yaml", "Path to the YAML config")
		id         = flag.String("id", "", "Node id, overrides the config")
		bind       = flag.String("bind", "", "Consensus listen address, overrides the config")
		dir        = flag.String("dir", "", "Data directory, overrides the config")
		adminAddr  = flag.String("admin", "", "Admin rpc address, overrides the config")
		level      = flag.String("log-level", "info", "Log level: debug, info, warn, error")
		cacheSize  = flag.Int("cache-size", 64<<20, "Key/value store size in bytes")
	)
	flag.Parse()

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(*level)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: bad -log-level: %v\n", err)
		os.Exit(2)
	}
	l := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))

	conf, err := config.Parse(*configFile)
	if err != nil {
		l.Error("error while reading config", slog.Any("error", err))
		os.Exit(1)
	}
	if *id != "" {
		conf.ID = *id
	}
	if *bind != "" {
		conf.Bind = *bind
	}
	if *dir != "" {
		conf.Dir = *dir
	}
	if *adminAddr != "" {
		conf.Admin = *adminAddr
	}
	conf.SetDefaults()
	if err := conf.Validate(); err != nil {
		l.Error("invalid config", slog.Any("error", err))
		os.Exit(1)
	}

	if err := run(conf, *cacheSize, l); err != nil {
		if errors.Is(err, server.ErrRemoved) {
			l.Info("node removed from cluster, exiting")
			return
		}
		l.Error("node stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(conf *config.Config, cacheSize int, l *slog.Logger) error {
	if err := os.MkdirAll(conf.Dir, 0o755); err != nil {
		return err
	}
	store, err := storage.Open(conf.Dir)
	if err != nil {
		return err
	}
	defer store.Close()

	if conf.ID == "" {
		st, err := store.Load()
		if err != nil {
			return err
		}
		conf.ID = st.SelfID
	}

	tr := transport.NewTCP(conf.ID, conf.Bind, l)
	if err := tr.Listen(); err != nil {
		return err
	}
	defer tr.Close()

	kv := db.New(cacheSize)
	srv, err := server.NewServer(conf, tr, store, kv, l)
	if err != nil {
		return err
	}

	if conf.Admin != "" {
		a, err := admin.Serve(conf.Admin, admin.NewService(srv, kv), l)
		if err != nil {
			return err
		}
		defer a.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	l.Info("node started", slog.String("id", srv.ID()), slog.String("addr", tr.Addr()), slog.String("dir", conf.Dir))
	return srv.Run(ctx)
}
