package commands

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"dhlottery-backend/lib/configutil"
	"dhlottery-backend/lib/scrapers/dhlottery"
	"dhlottery-backend/lib/serviceutil"
)

var rootCmd = &cobra.Command{
	Use:   "dhlottery-cli",
	Short: "dhlottery-cli drives the lottery site: draw results, account balance, ticket purchases.",
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Config is the engine config plus the CLI-only bits.
type Config struct {
	dhlottery.Config
	// ProxyDBPath persists validated proxy candidates between runs.
	ProxyDBPath string `json:"proxyDbPath"`
}

func readConfig() Config {
	cfg, err := configutil.ReadConfig[Config]("dhlottery.json5")
	if err != nil {
		serviceutil.Fatal("read config", err)
	}
	return cfg
}

func openProxyDB(path string) *sql.DB {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		serviceutil.Fatal("open proxy db", err)
	}
	return db
}

func createClient() *dhlottery.Client {
	cfg := readConfig()
	if cfg.ProxyDBPath != "" {
		cfg.ProxyDB = openProxyDB(cfg.ProxyDBPath)
	}
	client, err := dhlottery.New(cfg.Config)
	if err != nil {
		serviceutil.Fatal("initialize client", err)
	}
	return client
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		serviceutil.Fatal("encode output", err)
	}
	fmt.Println(string(out))
}
