package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"autoclose-bot/internal/logger"
	"autoclose-bot/pkg/ws"
)

func main() {
	url := flag.String("url", ws.DefaultMarkPriceURL, "mark price stream URL")
	symbols := flag.String("symbols", "BTCUSDT,ETHUSDT", "comma separated symbols to print")
	flag.Parse()

	zl, err := logger.New(logger.DefaultConfig())
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync(zl)

	watch := make(map[string]bool)
	for _, s := range strings.Split(*symbols, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			watch[s] = true
		}
	}

	stream := ws.NewMarkPriceStream(*url, zl)
	stream.Subscribe(func(prices []ws.MarkPrice) {
		for _, p := range prices {
			if watch[p.Symbol] {
				log.Printf("%s mark=%s at %s", p.Symbol, p.Price, p.Time.Format("15:04:05"))
			}
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("Streaming mark prices from %s. Press Ctrl+C to exit...", *url)
	if err := stream.Run(ctx); err != nil {
		log.Fatalf("Stream failed: %v", err)
	}
	log.Println("Shutting down...")
}
