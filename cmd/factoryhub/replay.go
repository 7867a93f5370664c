package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	inputredis "factoryhub/internal/input/redis"
	"factoryhub/internal/logger"
	"factoryhub/internal/output/rawjson"
	"factoryhub/internal/server"
	"factoryhub/internal/signature"
	"factoryhub/pkg/models"
)

// deliverFunc sends one captured delivery. line is the captured JSON line
// as read from disk.
type deliverFunc func(ctx context.Context, d models.Delivery, line []byte) error

func runReplay(args []string) int {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	configArg := fs.String("config", "", "Path to factoryhub.yml")
	file := fs.String("file", "", "Captured deliveries (JSONL); defaults to replay_capture.file.path")
	target := fs.String("target", "", "Hub base URL to POST deliveries to, e.g. http://127.0.0.1:8080")
	redisAddr := fs.String("redis", "", "Redis address to publish deliveries to instead of HTTP")
	redisKey := fs.String("key", inputredis.DefaultKey, "Redis list key")
	secret := fs.String("secret", "", "Re-sign payloads with this secret")
	delay := fs.Duration("delay", 0, "Pause between deliveries")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, _, err := loadConfig(*configArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	path := *file
	if path == "" {
		path = cfg.FactoryHub.ReplayCapture.File.Path
	}
	in, err := os.Open(path)
	if err != nil {
		logger.Errorf("Open %s: %v", path, err)
		return 1
	}
	defer in.Close()

	var send deliverFunc
	switch {
	case *redisAddr != "":
		pub := inputredis.NewPublisher(inputredis.Config{Addr: *redisAddr, Key: *redisKey})
		defer pub.Close()
		send = redisSender(pub)
	case *target != "":
		send = httpSender(&http.Client{Timeout: 10 * time.Second}, *target, *secret)
	default:
		fmt.Fprintln(os.Stderr, "replay: one of -target or -redis is required")
		return 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sent, err := replay(ctx, in, send, *delay)
	logger.Infof("Replayed %d deliveries from %s", sent, path)
	if err != nil {
		logger.Errorf("Replay stopped: %v", err)
		return 1
	}
	return 0
}

func replay(ctx context.Context, r io.Reader, send deliverFunc, delay time.Duration) (int, error) {
	sent := 0
	err := rawjson.ReadAll(r, func(line []byte) error {
		var d models.Delivery
		if err := json.Unmarshal(line, &d); err != nil {
			logger.Warnf("Skipping unreadable capture line: %v", err)
			return nil
		}
		if sent > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := send(ctx, d, line); err != nil {
			return fmt.Errorf("delivery %s: %w", d.DeliveryID, err)
		}
		sent++
		return nil
	})
	return sent, err
}

func httpSender(client *http.Client, target, secret string) deliverFunc {
	base := strings.TrimRight(target, "/")
	return func(ctx context.Context, d models.Delivery, _ []byte) error {
		provider := d.Provider
		if provider == "" {
			provider = "github"
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/webhooks/"+provider, bytes.NewReader(d.Payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(server.HeaderEvent, d.Event)
		if d.DeliveryID != "" {
			req.Header.Set(server.HeaderDelivery, d.DeliveryID)
		}
		sig := d.Signature
		if secret != "" {
			sig = signature.Header(secret, d.Payload)
		}
		if sig != "" {
			req.Header.Set(server.HeaderSignature, sig)
		}

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return errors.New(resp.Status)
		}
		return nil
	}
}

func redisSender(pub *inputredis.Publisher) deliverFunc {
	return func(ctx context.Context, _ models.Delivery, line []byte) error {
		return pub.Publish(ctx, line)
	}
}
