package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sony/micro-delivery-ingest/deliverynote"
)

func main() {
	ponce := flag.Bool("once", false, "Run a single poll cycle and exit")
	pextract := flag.String("extract", "", "Extract files already in the download directory of the named rule and exit")

	flag.Parse()

	config, err := deliverynote.ParseConfig(os.Getenv(deliverynote.EnvConfig))
	if err != nil {
		log.Fatal("Couldn't parse DELIVERY_CONFIG string", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *pextract != "":
		report, err := deliverynote.RunBacklog(ctx, config, *pextract)
		if err != nil {
			log.Fatalf("backlog run failed: %+v", err)
		}
		log.Printf("backlog run done: %d files, records %v", report.Files, report.Records)
	case *ponce:
		report, err := deliverynote.RunOnce(ctx, config)
		if err != nil {
			log.Fatalf("poll cycle failed: %+v", err)
		}
		log.Printf("poll cycle done: %d of %d messages handled, records %v", report.Handled, report.Messages, report.Records)
	default:
		log.Fatal(deliverynote.RunServer(config))
	}
}
