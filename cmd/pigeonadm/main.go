package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"pigeon/internal/conf"
	"pigeon/internal/store"
)

func main() {
	// Command-line flags
	configPath := flag.String("config", "/etc/pigeon/pigeon.yaml", "Path to configuration file")
	dbPath := flag.String("db", "", "Path to database file (overrides config)")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := conf.LoadConfig(*configPath)
	if err != nil {
		cfg = conf.DefaultConfig()
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to open message store: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("Error closing message store: %v", err)
		}
	}()

	switch args[0] {
	case "adduser":
		if len(args) != 3 {
			fmt.Fprintln(os.Stderr, "Usage: pigeonadm adduser <username> <password>")
			os.Exit(2)
		}
		if err := st.CreateAccount(args[1], args[2]); err != nil {
			if errors.Is(err, store.ErrDuplicateAccount) {
				log.Fatalf("Account %s already exists", args[1])
			}
			log.Fatalf("Failed to create account: %v", err)
		}
		log.Printf("Account %s created", args[1])

	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: pigeonadm [-config path] [-db path] adduser <username> <password>")
}
