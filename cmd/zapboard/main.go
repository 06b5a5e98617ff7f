package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"github.com/gmfranca/zapboard/internal/app"
	"github.com/gmfranca/zapboard/internal/config"
	"github.com/gmfranca/zapboard/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	localFlag := flag.Bool("local", false, "use the in-process sqlite backend")
	flag.Parse()

	_ = godotenv.Load()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	gatewayURL, gatewayKey := resolveGateway()

	fx.New(
		app.Module(app.Params{
			SessionName: sessionName,
			Local:       *localFlag,
			GatewayURL:  gatewayURL,
			GatewayKey:  gatewayKey,
		}),
	).Run()
}

// resolveGateway reads the backend endpoint: environment variables win over
// config.toml.
func resolveGateway() (url, key string) {
	if cfg, err := config.Load(session.ConfigPath()); err == nil {
		url, key = cfg.GatewayURL, cfg.GatewayKey
	}
	if v := os.Getenv("ZAPBOARD_GATEWAY_URL"); v != "" {
		url = v
	}
	if v := os.Getenv("ZAPBOARD_GATEWAY_KEY"); v != "" {
		key = v
	}
	return url, key
}
