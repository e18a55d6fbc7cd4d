package main

import (
	"flag"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"dhlottery-backend/lib/configutil"
	"dhlottery-backend/lib/scrapers/dhlottery/relay"
	"dhlottery-backend/lib/serviceutil"
	"dhlottery-backend/lib/telemetry"
)

type Config struct {
	Port int `json:"port"`
	// UpstreamTimeoutSeconds bounds one proxied exchange with the
	// lottery hosts.
	UpstreamTimeoutSeconds int `json:"upstream_timeout_seconds"`
}

func main() {
	verbose := flag.Bool("v", false, "Enable verbose logging/instrumentation.")
	flag.Parse()

	ctx := serviceutil.SignalContext()

	// OTEL_* overrides live in .env on relay deployments
	_ = godotenv.Load()
	t, err := telemetry.SetupFromEnv(ctx, "relayd")
	if err != nil {
		serviceutil.Fatal("setup telemetry", err)
	}
	defer t.Shutdown(ctx)
	telemetry.InitSlog(*verbose)

	cfg, err := configutil.ReadConfig[Config]("relayd.json5")
	if err != nil {
		serviceutil.Fatal("read config", err)
	}
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.UpstreamTimeoutSeconds == 0 {
		cfg.UpstreamTimeoutSeconds = 30
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.PathPrefix("/").Handler(
		relay.NewHandler(time.Duration(cfg.UpstreamTimeoutSeconds) * time.Second))

	go serviceutil.StartHttpServer(cfg.Port, r)
	<-ctx.Done()
}
