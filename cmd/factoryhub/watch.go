package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"factoryhub/pkg/client"
	"factoryhub/pkg/models"
)

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "Hub base URL")
	fallbackAfter := fs.Int("fallback-after", 3, "WebSocket failures before switching to SSE")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	c, err := client.New(client.Config{
		BaseURL:       *baseURL,
		FallbackAfter: *fallbackAfter,
		OnStatus: func(s client.Status) {
			fmt.Fprintf(os.Stderr, "%s %s\n", time.Now().Format(time.TimeOnly), s)
		},
		OnSnapshot: func(s models.Snapshot) {
			fmt.Fprintf(os.Stderr, "snapshot: %d recent, %d modules, open_prs=%d failing_checks=%d last_release=%s\n",
				len(s.Recent), len(s.Modules), s.KPIs.OpenPRs, s.KPIs.FailingChecks, orNA(s.KPIs.LastRelease))
		},
		OnEvent: eventPrinter(os.Stdout, os.Stderr),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		return 1
	}
	return 0
}

// eventPrinter writes each event as one JSON line to out. Write failures
// are reported on errOut.
func eventPrinter(out, errOut io.Writer) func(*models.CanonicalEvent) {
	enc := json.NewEncoder(out)
	return func(ev *models.CanonicalEvent) {
		if err := enc.Encode(ev); err != nil {
			fmt.Fprintf(errOut, "watch: write event %s: %v\n", ev.ID, err)
		}
	}
}

func orNA(v *string) string {
	if v == nil {
		return "n/a"
	}
	return *v
}
