package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mallhive.org/internal/httpapi"
	"mallhive.org/internal/identity"
	"mallhive.org/internal/identity/pg"
	"mallhive.org/internal/notify"
	"mallhive.org/internal/obs"
	"mallhive.org/internal/token"
	"mallhive.org/internal/vault"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo("mallhive-identity", version, commit)

	ctx := context.Background()

	// Storage: Postgres when a DSN is set, in-memory otherwise (local runs).
	var (
		store identity.Store
		probe httpapi.ReadyProbe
	)
	if dsn := os.Getenv("MALLHIVE_PG_DSN"); dsn != "" {
		pgStore, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
		probe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		log.Print("MALLHIVE_PG_DSN not set, using in-memory store")
		store = identity.NewInMemory()
	}

	signer, err := token.NewSigner(signingSecret(ctx), token.WithIssuer("mallhive-identity"))
	if err != nil {
		log.Fatalf("token signer: %v", err)
	}

	var notifier identity.Notifier
	if url := os.Getenv("MALLHIVE_NOTIFY_URL"); url != "" {
		notifier = notify.New(url)
	} else {
		log.Print("MALLHIVE_NOTIFY_URL not set, notifications disabled")
	}

	svc := identity.NewService(store, signer, notifier)
	api := httpapi.NewIdentity(svc, probe, version)

	addr := os.Getenv("MALLHIVE_IDENTITY_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting mallhive-identity %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Println("Stopped")
}

// signingSecret resolves the JWT signing key: from the vault when one is
// configured, from the environment otherwise.
func signingSecret(ctx context.Context) []byte {
	if name := os.Getenv("MALLHIVE_JWT_SECRET_NAME"); name != "" {
		v, err := openVault(ctx)
		if err != nil {
			log.Fatalf("vault: %v", err)
		}
		secret, err := v.GetSecret(ctx, name)
		if err != nil {
			log.Fatalf("fetch signing secret %q: %v", name, err)
		}
		return []byte(secret)
	}
	secret := os.Getenv("MALLHIVE_JWT_SECRET")
	if secret == "" {
		log.Fatal("missing signing key: set MALLHIVE_JWT_SECRET or MALLHIVE_JWT_SECRET_NAME")
	}
	return []byte(secret)
}

func openVault(ctx context.Context) (vault.Vault, error) {
	return vault.NewAWS(ctx, vault.AWSConfig{
		Region:       os.Getenv("MALLHIVE_AWS_REGION"),
		AccessKey:    os.Getenv("MALLHIVE_AWS_ACCESS_KEY"),
		SecretKey:    os.Getenv("MALLHIVE_AWS_SECRET_KEY"),
		BaseEndpoint: os.Getenv("MALLHIVE_AWS_ENDPOINT"),
	})
}
