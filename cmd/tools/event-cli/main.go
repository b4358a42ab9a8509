package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/annel0/chunk-streamer/internal/eventbus"
)

const (
	defaultNatsURL = "nats://127.0.0.1:4222"
	timeFormat     = "2006-01-02T15:04:05Z"
)

func main() {
	var (
		natsURL    = flag.String("nats", defaultNatsURL, "NATS server URL")
		stream     = flag.String("stream", "CHUNKS", "JetStream stream name")
		command    = flag.String("cmd", "tail", "Command: tail, stats, types")
		eventTypes = flag.String("types", "", "Event types filter (comma-separated)")
		sources    = flag.String("sources", "", "Event sources filter (comma-separated)")
		since      = flag.String("since", "1h", "Time duration since now (e.g., 1h, 30m)")
		limit      = flag.Int("limit", 100, "Maximum number of events")
		follow     = flag.Bool("follow", false, "Follow new events (like tail -f)")
		idle       = flag.Duration("idle", 2*time.Second, "Stop after no events for this long (without -follow)")
	)
	flag.Parse()

	bus, err := eventbus.NewJetStreamBus(*natsURL, *stream, 0)
	if err != nil {
		log.Fatalf("❌ Failed to connect to NATS: %v", err)
	}
	defer bus.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startTime, err := parseSinceTime(*since, time.Now())
	if err != nil {
		log.Fatalf("❌ Invalid since time: %v", err)
	}

	filter := eventbus.Filter{
		Types:   parseStringList(*eventTypes),
		Sources: parseStringList(*sources),
	}

	switch *command {
	case "tail":
		if err := tailEvents(ctx, bus, filter, &TailOptions{
			Since:  startTime,
			Limit:  *limit,
			Follow: *follow,
			Idle:   *idle,
		}); err != nil {
			log.Fatalf("❌ Tail failed: %v", err)
		}

	case "stats":
		if err := showStats(ctx, bus, filter, startTime, *idle); err != nil {
			log.Fatalf("❌ Stats failed: %v", err)
		}

	case "types":
		showTypes()

	default:
		fmt.Printf("❌ Unknown command: %s\n", *command)
		fmt.Println("Available commands: tail, stats, types")
		os.Exit(1)
	}
}

type TailOptions struct {
	Since  time.Time
	Limit  int
	Follow bool
	Idle   time.Duration
}

// tailEvents выводит события из стрима, начиная с Since
func tailEvents(ctx context.Context, bus eventbus.EventBus, filter eventbus.Filter, opts *TailOptions) error {
	fmt.Printf("🎬 Tailing events (limit: %d, follow: %v)\n", opts.Limit, opts.Follow)

	var (
		mu    sync.Mutex
		count int
	)
	done := make(chan struct{})
	activity := make(chan struct{}, 1)
	var once sync.Once

	sub, err := bus.Subscribe(ctx, filter, func(_ context.Context, ev *eventbus.Envelope) {
		if ev.Timestamp.Before(opts.Since) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if !opts.Follow && count >= opts.Limit {
			return
		}
		printEvent(ev)
		count++
		select {
		case activity <- struct{}{}:
		default:
		}
		if !opts.Follow && count >= opts.Limit {
			once.Do(func() { close(done) })
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	waitIdle(ctx, done, activity, opts.Follow, opts.Idle)

	mu.Lock()
	fmt.Printf("\n📊 Total events: %d\n", count)
	mu.Unlock()
	return nil
}

// showStats считает события по типам за период
func showStats(ctx context.Context, bus eventbus.EventBus, filter eventbus.Filter, since time.Time, idle time.Duration) error {
	fmt.Println("📊 Event statistics")

	var (
		mu       sync.Mutex
		byType   = make(map[string]int)
		coords   int
		total    int
		activity = make(chan struct{}, 1)
	)

	sub, err := bus.Subscribe(ctx, filter, func(_ context.Context, ev *eventbus.Envelope) {
		if ev.Timestamp.Before(since) {
			return
		}
		mu.Lock()
		byType[ev.EventType]++
		total++
		if ev.EventType == eventbus.EventChunkUnloadBatch {
			if p, err := eventbus.DecodeUnloadBatch(ev); err == nil {
				coords += len(p.Coords)
			}
		}
		mu.Unlock()
		select {
		case activity <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	waitIdle(ctx, nil, activity, false, idle)

	mu.Lock()
	defer mu.Unlock()

	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)

	fmt.Printf("Period: %s - %s\n", since.UTC().Format(timeFormat), time.Now().UTC().Format(timeFormat))
	fmt.Printf("Total events: %d\n", total)
	fmt.Println("\nBy event type:")
	for _, t := range types {
		fmt.Printf("  %s: %d events\n", t, byType[t])
	}
	if coords > 0 {
		fmt.Printf("\nUnloaded chunks: %d\n", coords)
	}
	return nil
}

// showTypes выводит типы событий, которые публикует стример
func showTypes() {
	fmt.Println("📋 Available event types")
	fmt.Printf("Type: %s\n", eventbus.EventChunkUnloadBatch)
	fmt.Println("  Description: batch of chunk coordinates evicted in one update")
	fmt.Println()
	fmt.Printf("Type: %s\n", eventbus.EventChunkGenerationAbandoned)
	fmt.Println("  Description: chunk dropped after exhausting generation retries")
	fmt.Println()
}

// waitIdle ждёт сигнала, закрытия done или тишины дольше idle
func waitIdle(ctx context.Context, done <-chan struct{}, activity <-chan struct{}, follow bool, idle time.Duration) {
	timer := time.NewTimer(idle)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-activity:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(idle)
		case <-timer.C:
			if !follow {
				return
			}
			timer.Reset(idle)
		}
	}
}

// printEvent выводит событие в читаемом формате
func printEvent(ev *eventbus.Envelope) {
	fmt.Printf("[%s] %s [%s] %s\n",
		ev.Timestamp.Local().Format("15:04:05"),
		ev.Source,
		ev.EventType,
		ev.ID)

	switch ev.EventType {
	case eventbus.EventChunkUnloadBatch:
		p, err := eventbus.DecodeUnloadBatch(ev)
		if err != nil {
			fmt.Printf("  ⚠️ bad payload: %v\n", err)
			return
		}
		fmt.Printf("  Unloaded: %d chunks\n", len(p.Coords))
		for i, c := range p.Coords {
			if i == 8 {
				fmt.Printf("  … and %d more\n", len(p.Coords)-i)
				break
			}
			fmt.Printf("  %s\n", c)
		}
	case eventbus.EventChunkGenerationAbandoned:
		p, err := eventbus.DecodeAbandoned(ev)
		if err != nil {
			fmt.Printf("  ⚠️ bad payload: %v\n", err)
			return
		}
		fmt.Printf("  Chunk: %s Tier: %s Failures: %d\n", p.Coord, p.Tier, p.Failures)
		fmt.Printf("  Error: %s\n", p.Error)
	}
}

// parseStringList парсит строку с разделителями-запятыми
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseSinceTime парсит относительное время типа "1h", "30m" или абсолютное
func parseSinceTime(since string, from time.Time) (time.Time, error) {
	if since == "" {
		return time.Time{}, nil
	}

	duration, err := time.ParseDuration(since)
	if err != nil {
		return time.Parse(timeFormat, since)
	}

	return from.Add(-duration), nil
}
