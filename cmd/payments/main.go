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
	"mallhive.org/internal/notify"
	"mallhive.org/internal/obs"
	"mallhive.org/internal/payment"
	"mallhive.org/internal/payment/gateway"
	"mallhive.org/internal/payment/orders"
	"mallhive.org/internal/vault"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo("mallhive-payments", version, commit)

	ctx := context.Background()

	ordersURL := os.Getenv("MALLHIVE_ORDERS_URL")
	if ordersURL == "" {
		log.Fatal("missing MALLHIVE_ORDERS_URL")
	}

	dec, stripeKey := paymentSecrets(ctx)

	gatewayURL := os.Getenv("MALLHIVE_STRIPE_URL")
	if gatewayURL == "" {
		gatewayURL = "https://api.stripe.com/v1"
	}
	gateways := map[string]gateway.Gateway{
		"stripe": gateway.NewHTTP(gatewayURL, stripeKey),
	}

	var notifier payment.Notifier
	if url := os.Getenv("MALLHIVE_NOTIFY_URL"); url != "" {
		notifier = notify.New(url)
	} else {
		log.Print("MALLHIVE_NOTIFY_URL not set, notifications disabled")
	}

	svc := payment.NewService(orders.New(ordersURL), dec, gateways, notifier)
	api := httpapi.NewPayments(svc, httpapi.ReadyProbe{}, version)

	addr := os.Getenv("MALLHIVE_PAYMENTS_ADDR")
	if addr == "" {
		addr = ":8081"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting mallhive-payments %s on %s", version, srv.Addr)

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

// paymentSecrets wires the token decrypter and the gateway API key. With an
// AWS region set the real vault is used; otherwise a static vault keeps local
// runs self-contained.
func paymentSecrets(ctx context.Context) (payment.Decrypter, string) {
	if region := os.Getenv("MALLHIVE_AWS_REGION"); region != "" {
		v, err := vault.NewAWS(ctx, vault.AWSConfig{
			Region:       region,
			AccessKey:    os.Getenv("MALLHIVE_AWS_ACCESS_KEY"),
			SecretKey:    os.Getenv("MALLHIVE_AWS_SECRET_KEY"),
			BaseEndpoint: os.Getenv("MALLHIVE_AWS_ENDPOINT"),
		})
		if err != nil {
			log.Fatalf("vault: %v", err)
		}
		name := os.Getenv("MALLHIVE_STRIPE_KEY_NAME")
		if name == "" {
			name = "mallhive/stripe-api-key"
		}
		key, err := v.GetSecret(ctx, name)
		if err != nil {
			log.Fatalf("fetch gateway key %q: %v", name, err)
		}
		return v, key
	}

	key := os.Getenv("MALLHIVE_STRIPE_KEY")
	if key == "" {
		log.Fatal("missing gateway key: set MALLHIVE_STRIPE_KEY or configure the vault")
	}
	log.Print("MALLHIVE_AWS_REGION not set, using static vault")
	return vault.NewStatic(nil), key
}
