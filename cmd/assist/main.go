package main

//     _             _     _
//    / \    ___ ___(_)___| |_
//   / _ \  / __/ __| / __| __|
//  / ___ \ \__ \__ \ \__ \ |_
// /_/   \_\|___/___/_|___/\__|
//  field service assistant core

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mazznoer/colorgrad"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"fieldstack/assist/internal/config"
	"fieldstack/assist/internal/core"
	"fieldstack/assist/internal/domain"
	"fieldstack/assist/internal/llm"
	"fieldstack/assist/internal/ratelimit"
	"fieldstack/assist/internal/resolver"
	"fieldstack/assist/internal/router"
	"fieldstack/assist/internal/server"
	"fieldstack/assist/internal/sidecar"
)

const version = "0.4"

func main() {
	fmt.Printf("%s\n", getBanner())

	cmd := &cli.Command{
		Name:    "assist",
		Usage:   "orchestration core for the field service assistant",
		Version: version,
		Flags:   config.GetFlags(),
		Action:  runServer,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		// Print to stderr first in case logger isn't initialized
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		zap.S().Fatal(err)
	}
}

func getBanner() string {
	banner := `
    _             _     _
   / \    ___ ___(_)___| |_
  / _ \  / __/ __| / __| __|
 / ___ \ \__ \__ \ \__ \ |_
/_/   \_\|___/___/_|___/\__|
 field service assistant core [v` + version + `]
`
	grad, _ := colorgrad.NewGradient().
		HtmlColors("#f07811ff", "#fdfdfdff").
		Build()

	lines := strings.Split(banner, "\n")

	maxLen := 0
	for _, line := range lines {
		if len(line) > maxLen {
			maxLen = len(line)
		}
	}

	colors := grad.Colors(uint(maxLen))
	var coloredBanner strings.Builder

	for _, line := range lines {
		for i, ch := range line {
			r, g, b, _ := colors[i].RGBA255()
			coloredBanner.WriteString(fmt.Sprintf("\x1b[38;2;%d;%d;%dm%c", r, g, b, ch))
		}
		coloredBanner.WriteString("\x1b[0m\n")
	}

	return coloredBanner.String()
}

func runServer(ctx context.Context, c *cli.Command) error {
	cfg := config.NewConfiguration(c)
	core.InitLogger(cfg.Verbose)
	defer func() { _ = zap.L().Sync() }()

	if cfg.Verbose {
		cfg.PrintConfig()
	}

	domainClient := domain.NewHTTPClient(cfg.Domain.APIURL, cfg.Domain.AutocompleteURL, cfg.Domain.LookupLimit, cfg.Domain.Timeout)
	limiter := ratelimit.New(cfg.Limits.Requests, cfg.Limits.Window, cfg.Limits.Sweep)
	defer limiter.Close()

	cloud := llm.NewClient(cfg.AI)
	rt := router.New(cfg,
		resolver.New(domainClient),
		sidecar.New(cfg.Sidecar),
		cloud,
		domainClient,
		domainClient,
	)

	zap.S().Infow("Starting assistant core",
		"cloud", cloud.Configured(),
		"sidecar", cfg.Sidecar.URL,
		"model", cfg.AI.Model,
	)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.New(cfg, limiter, rt, cloud, domainClient).ListenAndServe(runCtx)
}
