package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"pigeon/internal/conf"
	"pigeon/internal/imap"
	"pigeon/internal/relay"
	"pigeon/internal/smtp"
	"pigeon/internal/store"
)

func main() {
	// Command-line flags
	configPath := flag.String("config", "/etc/pigeon/pigeon.yaml", "Path to configuration file")
	dbPath := flag.String("db", "", "Path to database file (overrides config)")
	flag.Parse()

	log.Println("Starting Pigeon mail server...")

	// Load configuration
	cfg, err := conf.LoadConfig(*configPath)
	if err != nil {
		log.Printf("Warning: Failed to load config from %s: %v", *configPath, err)
		log.Println("Using default configuration")
		cfg = conf.DefaultConfig()
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	// One store instance, injected into every engine
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open message store: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("Error closing message store: %v", err)
		}
	}()

	log.Printf("Message store opened: %s", cfg.Database.Path)
	log.Printf("Local domain: %s", cfg.Domain)

	sender, err := relay.NewSender(cfg.Relay.Broadcast, cfg.Relay.Port)
	if err != nil {
		log.Fatalf("Failed to open relay sender: %v", err)
	}
	defer func() {
		if err := sender.Close(); err != nil {
			log.Printf("Error closing relay sender: %v", err)
		}
	}()

	smtpServer := smtp.NewServer(st, cfg, sender)
	imapServer := imap.NewServer(st, cfg)
	receiver := relay.NewReceiver(st, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var g errgroup.Group
	g.Go(smtpServer.Start)
	g.Go(imapServer.Start)
	g.Go(receiver.Start)
	g.Go(func() error {
		<-ctx.Done()
		log.Println("Shutting down...")
		if err := smtpServer.Shutdown(); err != nil {
			log.Printf("Error shutting down SMTP server: %v", err)
		}
		if err := imapServer.Shutdown(); err != nil {
			log.Printf("Error shutting down IMAP server: %v", err)
		}
		if err := receiver.Shutdown(); err != nil {
			log.Printf("Error shutting down relay receiver: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Pigeon mail server stopped")
}
