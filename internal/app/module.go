// Package app composes the dashboard: gateway, store, reconciler, status
// machine and TUI, wired through fx with a single lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/gmfranca/zapboard/internal/bus"
	"github.com/gmfranca/zapboard/internal/feed"
	"github.com/gmfranca/zapboard/internal/gateway"
	"github.com/gmfranca/zapboard/internal/gateway/localdev"
	"github.com/gmfranca/zapboard/internal/logging"
	"github.com/gmfranca/zapboard/internal/session"
	"github.com/gmfranca/zapboard/internal/state"
	"github.com/gmfranca/zapboard/internal/status"
	"github.com/gmfranca/zapboard/internal/tui"
)

// Params holds the resolved configuration passed to the fx module.
type Params struct {
	SessionName string
	Local       bool   // run against the in-process sqlite backend
	GatewayURL  string // hosted backend project URL
	GatewayKey  string // hosted backend API key
}

// Module returns the fx module for the dashboard, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("zapboard",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideGateway,
			provideStore,
			provideReconciler,
			provideApp,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideGateway(p Params, logger *zap.Logger) (gateway.Gateway, error) {
	if p.Local {
		backend, err := localdev.Open(session.LocalDBPath(p.SessionName), logger)
		if err != nil {
			return nil, err
		}
		if err := ensureDevUser(backend); err != nil {
			_ = backend.Close()
			return nil, err
		}
		logger.Info("local backend ready", zap.String("path", session.LocalDBPath(p.SessionName)))
		return backend, nil
	}
	if p.GatewayURL == "" || p.GatewayKey == "" {
		return nil, fmt.Errorf("gateway url and key required; set them in %s or the environment", session.ConfigPath())
	}
	return gateway.NewClient(p.GatewayURL, p.GatewayKey, logger), nil
}

// ensureDevUser seeds and selects a session user so a fresh local database is
// immediately usable.
func ensureDevUser(backend *localdev.Backend) error {
	ctx := context.Background()
	rows, err := backend.Select(ctx, "users", gateway.Query{OrderBy: "created_at", Limit: 1})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		row, err := backend.Insert(ctx, "users", gateway.Row{
			"name":  "dev",
			"email": "dev@localhost",
		})
		if err != nil {
			return err
		}
		rows = []gateway.Row{row}
	}
	backend.SetSessionUser(rows[0].ID())
	return nil
}

func provideStore(gw gateway.Gateway, b *bus.Bus, logger *zap.Logger) *state.Store {
	return state.New(gw, b, logger)
}

func provideReconciler(gw gateway.Gateway, store *state.Store, b *bus.Bus, logger *zap.Logger) *feed.Reconciler {
	return feed.New(gw, store, b, logger)
}

func provideApp(p Params, store *state.Store, b *bus.Bus, logger *zap.Logger) *tui.App {
	return tui.NewApp(store, b, p.SessionName, logger)
}

func registerLifecycle(lc fx.Lifecycle, sh fx.Shutdowner, gw gateway.Gateway, store *state.Store, rec *feed.Reconciler, machine *status.Machine, ui *tui.App, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			_ = machine.Transition(status.Connecting)

			if err := store.Load(context.Background()); err != nil {
				if errors.Is(err, gateway.ErrNotAuthenticated) {
					_ = machine.Transition(status.AuthRequired)
					logger.Error("no backend session; sign in and retry")
				} else {
					_ = machine.Transition(status.Error)
				}
				return err
			}

			if err := rec.Start(context.Background()); err != nil {
				_ = machine.Transition(status.Degraded)
				logger.Error("change feed unavailable", zap.Error(err))
			} else {
				_ = machine.Transition(status.Live)
			}

			go func() {
				if err := ui.Run(); err != nil {
					logger.Error("tui error", zap.Error(err))
				}
				_ = sh.Shutdown()
			}()

			return nil
		},
		OnStop: func(_ context.Context) error {
			ui.Stop()
			rec.Stop()
			switch g := gw.(type) {
			case *localdev.Backend:
				_ = g.Close()
			case *gateway.Client:
				g.Close()
			}
			logger.Info("dashboard stopped")
			return nil
		},
	})
}
