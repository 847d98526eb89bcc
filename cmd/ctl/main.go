// ctl publishes control messages to a running worker and can tail a
// task's event channel.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pm-arb-worker/internal/config"
	"pm-arb-worker/internal/store"
	"pm-arb-worker/internal/task"
)

func main() {
	redisAddr := flag.String("redis", "localhost:6379", "redis address")
	redisDB := flag.Int("redis-db", 0, "redis database")
	prefix := flag.String("prefix", task.DefaultKeyPrefix, "redis key prefix")
	action := flag.String("action", "", "create | cancel | update_config | refresh_positions | shutdown | watch")
	taskID := flag.String("task", "", "task id")
	market := flag.String("market", "", "market URL or slug (create)")
	strategies := flag.String("strategies", "merge_long", "comma-separated strategy names (create)")
	mode := flag.String("mode", "SIMULATION", "SIMULATION or REAL (create)")
	autoBuy := flag.Bool("auto-buy", false, "enable auto-buy for every listed strategy (create)")
	patchJSON := flag.String("patch", "", "JSON config patch (update_config)")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	bus := store.New(store.Config{
		Addr:     *redisAddr,
		Password: os.Getenv("PMARB_REDIS_PASSWORD"),
		DB:       *redisDB,
	})
	defer bus.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	keys := task.NewKeys(*prefix)
	if err := run(ctx, bus, keys, *action, *taskID, *market, *strategies, *mode, *autoBuy, *patchJSON); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, bus *store.Store, keys task.Keys, action, taskID, market, strategies, mode string, autoBuy bool, patchJSON string) error {
	switch action {
	case task.ActionCreate:
		return publish(ctx, bus, keys, createMessage(taskID, market, strategies, mode, autoBuy))
	case task.ActionCancel, task.ActionRefreshPositions:
		if taskID == "" {
			return fmt.Errorf("%s requires -task", action)
		}
		return publish(ctx, bus, keys, task.ControlMessage{Action: action, TaskID: taskID})
	case task.ActionUpdateConfig:
		if taskID == "" || patchJSON == "" {
			return fmt.Errorf("update_config requires -task and -patch")
		}
		var patch task.Patch
		if err := json.Unmarshal([]byte(patchJSON), &patch); err != nil {
			return fmt.Errorf("unreadable patch: %w", err)
		}
		return publish(ctx, bus, keys, task.ControlMessage{Action: action, TaskID: taskID, Patch: &patch})
	case task.ActionShutdown:
		return publish(ctx, bus, keys, task.ControlMessage{Action: action})
	case "watch":
		if taskID == "" {
			return fmt.Errorf("watch requires -task")
		}
		return watch(ctx, bus, keys, taskID)
	case "":
		return fmt.Errorf("-action is required")
	default:
		return fmt.Errorf("unknown action %q", action)
	}
}

func createMessage(taskID, market, strategies, mode string, autoBuy bool) task.ControlMessage {
	if taskID == "" {
		taskID = fmt.Sprintf("task-%d", time.Now().Unix())
	}
	cfg := task.Config{
		TaskID: taskID,
		Market: market,
		Mode:   mode,
		AutoBuy: task.AutoBuy{
			Enabled: autoBuy,
			Rules:   make(map[string]task.Rule),
		},
	}
	for _, name := range strings.Split(strategies, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		cfg.Strategies = append(cfg.Strategies, task.StrategyConfig{Name: name})
		if autoBuy {
			cfg.AutoBuy.Rules[name] = task.Rule{Enabled: true}
		}
	}
	return task.ControlMessage{Action: task.ActionCreate, TaskID: taskID, Config: &cfg}
}

func publish(ctx context.Context, bus *store.Store, keys task.Keys, msg task.ControlMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := bus.Publish(ctx, keys.Control(), payload); err != nil {
		return err
	}
	fmt.Printf("published %s", msg.Action)
	if msg.TaskID != "" {
		fmt.Printf(" for %s", msg.TaskID)
	}
	fmt.Println()
	return nil
}

func watch(ctx context.Context, bus *store.Store, keys task.Keys, taskID string) error {
	frames, closeSub := bus.Listen(ctx, keys.Events(taskID))
	defer closeSub()
	fmt.Printf("watching %s\n", keys.Events(taskID))
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			os.Stdout.Write(frame)
		}
	}
}
