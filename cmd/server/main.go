// Command server runs a ridgeline TCP server: one engine.Database shared
// across every accepted connection, speaking the ridgelinewire framed
// protocol.
package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"flag"

	"github.com/nmarchenko/ridgeline/internal/config"
	"github.com/nmarchenko/ridgeline/internal/engine"
	"github.com/nmarchenko/ridgeline/server/ridgelinewire"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "ridgeline.yaml", "path to ridgeline yaml config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Warn("load config, falling back to defaults", "path", cfgPath, "err", err)
		cfg = config.Default()
	}

	addr := os.Getenv("RIDGELINE_ADDR")
	if addr == "" {
		port := cfg.Server.Port
		if port == 0 {
			port = 6543
		}
		addr = fmt.Sprintf("127.0.0.1:%d", port)
	}

	db, err := engine.Open(cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := ridgelinewire.Run(ridgelinewire.ServerConfig{Addr: addr, DB: db}); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
