package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voxagent/internal/app"
)

func main() {
	var (
		cfgPath string
		check   bool
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.BoolVar(&check, "check", false, "run one health check, print the report as JSON, and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	if check {
		cctx, ccancel := context.WithTimeout(ctx, 30*time.Second)
		report := a.CheckOnce(cctx)
		ccancel()

		b, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Println("fatal:", err)
			os.Exit(1)
		}
		fmt.Println(string(b))
		_ = a.Stop(context.Background())
		return
	}

	if err := a.Start(ctx); err != nil {
		fmt.Println("fatal start:", err)
		os.Exit(1)
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
		// The failure dispatcher escalated past degradation; resources are
		// already released, so just finish the shutdown.
	}
	_ = a.Stop(context.Background())
}
