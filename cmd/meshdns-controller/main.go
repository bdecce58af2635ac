// Command meshdns-controller reconciles DNS records in a Cloudflare
// zone set against a mesh/VPN's machine inventory, triggered by a
// cron tick, an inventory webhook, or a manual HTTP request.
//
// Wiring follows cmd/external-dns/main.go: parse flags, validate them,
// construct the inventory/backend/reconciler trio, start a metrics
// server, register a SIGTERM handler, run.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/meshdns-controller/meshdns-controller/internal/cidr"
	"github.com/meshdns-controller/meshdns-controller/internal/configstore"
	"github.com/meshdns-controller/meshdns-controller/internal/dnsbackend"
	"github.com/meshdns-controller/meshdns-controller/internal/generator"
	"github.com/meshdns-controller/meshdns-controller/internal/httpmetrics"
	"github.com/meshdns-controller/meshdns-controller/internal/inventory"
	"github.com/meshdns-controller/meshdns-controller/internal/machine"
	"github.com/meshdns-controller/meshdns-controller/internal/metrics"
	"github.com/meshdns-controller/meshdns-controller/internal/reconciler"
	"github.com/meshdns-controller/meshdns-controller/internal/trigger"
	"github.com/meshdns-controller/meshdns-controller/pkg/apis/meshdns"
)

func main() {
	cfg := meshdns.NewConfig()
	if err := cfg.ParseFlags(meshdns.Args()); err != nil {
		log.Fatal(err)
	}

	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go handleSigterm(cancel)
	go serveHealthAndMetrics(cfg.HealthPort)

	var backingStore configstore.Store
	if cfg.ConfigStorage == "memory" {
		backingStore = configstore.NewInMemoryStore()
	} else {
		backingStore = configstore.NewFileStore(cfg.ConfigPath)
	}
	cs := configstore.New(backingStore)

	invClient := inventory.NewClient(cfg.InventoryBaseURL, cfg.InventoryAPIKey, cfg.InventoryTailnet, cfg.InventoryRPS)

	cfClient, err := cloudflare.NewWithAPIToken(cfg.DNSBackendAPIToken)
	if err != nil {
		log.Fatal(err)
	}
	backend := dnsbackend.NewBackend(cfClient)

	recon := reconciler.New(invClient, backend)

	metrics.MustRegister(prometheus.DefaultRegisterer)
	httpmetrics.MustRegister(prometheus.DefaultRegisterer)

	loop := &trigger.Loop{
		Interval:      cfg.SyncInterval,
		MinSyncGap:    cfg.MinSyncGap,
		OwnerID:       cfg.OwnerID,
		WebhookSecret: cfg.WebhookSecret,
		WebhookURL:    cfg.WebhookURL,
		Inventory:     invClient,
		Runner:        recon,
		LoadConfig: func() ([]*generator.GenerationTask, map[string]*cidr.List, error) {
			doc, err := cs.Load(ctx)
			if err != nil {
				return nil, nil, err
			}
			lists, err := doc.CIDRListsByName()
			if err != nil {
				return nil, nil, err
			}
			return doc.Tasks(), lists, nil
		},
		LoadMachines: func(ctx context.Context) ([]*machine.Machine, error) {
			return invClient.ListMachines(ctx)
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", loop.HandleWebhook)
	mux.HandleFunc("/manual-sync", loop.HandleManualSync)
	mux.HandleFunc("/sync-status", loop.HandleSyncStatus)
	mux.HandleFunc("/preview", loop.HandlePreview)

	go func() {
		log.Fatal(http.ListenAndServe(cfg.ListenAddr, mux))
	}()

	loop.ScheduleRunOnce(time.Now())
	loop.Run(ctx)
}

func handleSigterm(cancel func()) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM)
	<-signals
	log.Info("received SIGTERM, terminating")
	cancel()
}

func serveHealthAndMetrics(port string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	log.Fatal(http.ListenAndServe(":"+port, mux))
}
