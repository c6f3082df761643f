package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/samber/do"

	"github.com/bdobrica/Sohayok/internal/sohayok/app"
	"github.com/bdobrica/Sohayok/internal/sohayok/config"
	"github.com/bdobrica/Sohayok/internal/sohayok/logging"
	"github.com/bdobrica/Sohayok/internal/sohayok/server"
)

// logFile lets the injector close the log file on shutdown.
type logFile struct {
	io.Closer
}

func (l *logFile) Shutdown() error {
	return l.Close()
}

// newContainer loads the configuration, installs logging and registers the
// application services.
func newContainer(ctx context.Context, configPath string) (*do.Injector, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath, false)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	closer, err := logging.Init(cfg)
	if err != nil {
		return nil, err
	}

	di := do.New()
	do.ProvideValue(di, ctx)
	do.ProvideValue(di, cfg)
	do.ProvideValue(di, &logFile{Closer: closer})
	do.Provide(di, newApp)
	do.Provide(di, newServer)
	return di, nil
}

func newApp(di *do.Injector) (*app.App, error) {
	ctx := do.MustInvoke[context.Context](di)
	cfg := do.MustInvoke[*config.Config](di)
	return app.New(ctx, cfg, slog.Default())
}

func newServer(di *do.Injector) (*server.Server, error) {
	return server.New(do.MustInvoke[*app.App](di), slog.Default()), nil
}
