package main

import (
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/cashumint/mintd/mint"
	"github.com/cashumint/mintd/mint/lightning"
	"github.com/cashumint/mintd/mint/storage"
	"github.com/cashumint/mintd/mint/storage/memory"
	"github.com/cashumint/mintd/mint/storage/postgres"
	"github.com/joho/godotenv"
)

// storageFromConfig opens the quote/proof store config.DatabaseURL
// names. "memory" selects the in-process store used for development
// and tests; anything else is treated as a Postgres DSN.
func storageFromConfig(config mint.Config) (interface {
	storage.ProofStore
	storage.QuoteStore
	Close() error
}, error) {
	if config.DatabaseURL == "memory" {
		return memoryStore{memory.New()}, nil
	}
	return postgres.Open(config.DatabaseURL)
}

// memoryStore adapts *memory.Store, which has no Close, to the Closer
// shape storageFromConfig needs alongside the Postgres backend.
type memoryStore struct {
	*memory.Store
}

func (memoryStore) Close() error { return nil }

// lightningClientFromConfig picks the Client implementation
// config.Backend names.
func lightningClientFromConfig(config mint.LightningConfig) (lightning.Client, error) {
	switch config.Backend {
	case mint.BackendLnd:
		creds, err := lightning.NewLndCredentials(config.Lnd.CertPath, config.Lnd.MacaroonPath)
		if err != nil {
			return nil, err
		}
		creds.GRPCHost = config.Lnd.GRPCHost
		return lightning.SetupLndClient(creds)
	case mint.BackendCLN:
		return lightning.SetupCLNClient(lightning.CLNConfig{
			RestURL: config.CLN.RestURL,
			Rune:    config.CLN.Rune,
		})
	default:
		return lightning.NewMockBackend(), nil
	}
}

func main() {
	// .env is optional in production where real env vars are set by
	// the process supervisor; only warn if it's missing.
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, reading configuration from process environment")
	}

	config, err := mint.GetConfigFromEnv()
	if err != nil {
		log.Fatalf("error reading config: %v", err)
	}

	store, err := storageFromConfig(config)
	if err != nil {
		log.Fatalf("error opening storage: %v", err)
	}
	defer store.Close()

	lightningClient, err := lightningClientFromConfig(config.Lightning)
	if err != nil {
		log.Fatalf("error setting up lightning backend: %v", err)
	}

	m, err := mint.New(config, store, store, lightningClient)
	if err != nil {
		log.Fatalf("error loading mint: %v", err)
	}

	server := mint.NewServer(m, config.Server)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-c
		if err := server.Shutdown(); err != nil {
			log.Printf("error shutting down server: %v", err)
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.ListenAndServe(config.Server.HostPort); err != nil {
			log.Fatalf("error running mint server: %v", err)
		}
	}()

	wg.Wait()
}
