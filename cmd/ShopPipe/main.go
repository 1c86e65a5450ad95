// Command ShopPipe runs the WhatsApp shop bot and its admin API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/BTreeMap/ShopPipe/internal/api"
	"github.com/BTreeMap/ShopPipe/internal/assistant"
	"github.com/BTreeMap/ShopPipe/internal/cart"
	"github.com/BTreeMap/ShopPipe/internal/catalog"
	"github.com/BTreeMap/ShopPipe/internal/flow"
	"github.com/BTreeMap/ShopPipe/internal/genai"
	"github.com/BTreeMap/ShopPipe/internal/importer"
	"github.com/BTreeMap/ShopPipe/internal/lockfile"
	"github.com/BTreeMap/ShopPipe/internal/messaging"
	"github.com/BTreeMap/ShopPipe/internal/metrics"
	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/notify"
	"github.com/BTreeMap/ShopPipe/internal/orders"
	"github.com/BTreeMap/ShopPipe/internal/scheduler"
	"github.com/BTreeMap/ShopPipe/internal/store"
	"github.com/BTreeMap/ShopPipe/internal/store/rabbitmq"
	"github.com/BTreeMap/ShopPipe/internal/store/redisstore"
	"github.com/BTreeMap/ShopPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/ShopPipe/internal/whatsapp"
)

const (
	jobPollInterval    = 2 * time.Second
	outboxPollInterval = 2 * time.Second
	shutdownTimeout    = 10 * time.Second
)

func main() {
	cfg := loadEnvironmentConfig()
	flags, err := parseCommandLineFlags(flag.CommandLine, cfg, os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	initializeLogger(*flags.logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, flags); err != nil {
		slog.Error("ShopPipe failed", "error", err)
		os.Exit(1)
	}
	slog.Info("ShopPipe exited")
}

// transport is the chat provider plus what main needs to tear it down.
type transport struct {
	service messaging.Service
	webhook http.HandlerFunc
	close   func()
}

// run wires every component and blocks until ctx is done or the API fails.
func run(ctx context.Context, cfg Config, flags Flags) error {
	lock, err := lockfile.Acquire(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.Open(*flags.dbDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	m := metrics.New()

	var catalogOpts []catalog.Option
	var apiOpts []api.Option
	if cfg.RedisAddr != "" {
		rds, err := redisstore.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			slog.Warn("run: redis unavailable, continuing without cache and rate limit", "error", err)
		} else {
			defer rds.Close()
			catalogOpts = append(catalogOpts, catalog.WithCache(rds))
			apiOpts = append(apiOpts, api.WithRateLimiter(rds, api.DefaultRateLimit, api.DefaultRateWindow))
		}
	}

	var orderOpts []orders.Option
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			slog.Warn("run: rabbitmq unavailable, order events disabled", "error", err)
		} else {
			defer pub.Close()
			orderOpts = append(orderOpts, orders.WithPublisher(pub))
		}
	}

	cat := catalog.New(st, catalogOpts...)
	carts := cart.New(st, cart.WithTTL(cfg.CartTTL))
	owner := notify.NewOwner(st, *flags.owner)
	orderSvc := orders.NewService(st, cat, append(orderOpts, orders.WithOwnerNotifier(owner))...)
	jobs := flow.NewJobScheduler(st, cfg.InactivityAfter)

	tr, err := openTransport(cfg, flags)
	if err != nil {
		return err
	}
	defer tr.close()
	if tr.webhook != nil {
		apiOpts = append(apiOpts, api.WithTwilioWebhook(tr.webhook))
	}
	sender := messaging.NewRetrySender(tr.service, messaging.DefaultSendAttempts, messaging.DefaultSendDelay, m)

	machineOpts := []flow.Option{
		flow.WithOrders(orderSvc),
		flow.WithOwner(owner),
		flow.WithJobScheduler(jobs),
	}
	if *flags.openaiKey != "" {
		gc, err := genai.NewClient(buildGenAIOptions(flags)...)
		if err != nil {
			return fmt.Errorf("genai client: %w", err)
		}
		machineOpts = append(machineOpts, flow.WithAssistant(assistant.New(gc, st, buildAssistantOptions(cfg, jobs)...)))
	} else {
		slog.Info("run: OPENAI_API_KEY not set, free text gets the help menu")
	}
	machine := flow.NewMachine(carts, cat, machineOpts...)

	runner := store.NewJobRunner(st, jobPollInterval)
	flow.RegisterJobHandlers(runner, carts, sender)
	if err := runner.RecoverStaleJobs(); err != nil {
		slog.Warn("run: recovering stale jobs failed", "error", err)
	}
	outbox := store.NewOutboxSender(st, messaging.OutboxDelivery(sender), outboxPollInterval)
	if err := outbox.RecoverStaleMessages(); err != nil {
		slog.Warn("run: recovering stale outbox messages failed", "error", err)
	}

	sched := scheduler.NewScheduler()
	if err := sched.AddJob("cart-sweep", cfg.CartSweepSchedule, scheduler.CartSweep(carts, m)); err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	apiOpts = append(apiOpts, api.WithMetrics(m))
	server, err := api.NewServer(cat, orderSvc, importer.New(st, cat), append(buildAPIOptions(cfg, flags), apiOpts...)...)
	if err != nil {
		return err
	}

	dispatcher := messaging.NewDispatcher(machine, sender,
		messaging.WithOwner(*flags.owner),
		messaging.WithDedup(st),
		messaging.WithMetrics(m),
	)

	if err := tr.service.Start(ctx); err != nil {
		return fmt.Errorf("start %s transport: %w", *flags.provider, err)
	}

	var wg sync.WaitGroup
	goRun := func(f func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f()
		}()
	}
	goRun(func() { runner.Run(ctx) })
	goRun(func() { outbox.Run(ctx) })
	goRun(func() { dispatcher.Run(ctx, tr.service.Inbound()) })
	goRun(func() { logReceipts(ctx, tr.service.Receipts()) })

	apiErr := make(chan error, 1)
	go func() { apiErr <- server.Start() }()

	slog.Info("run: ShopPipe started", "provider", *flags.provider, "apiAddr", *flags.apiAddr, "ownerSet", *flags.owner != "")

	select {
	case <-ctx.Done():
		slog.Info("run: shutdown requested")
	case err = <-apiErr:
		if err == nil {
			err = errors.New("admin API stopped unexpectedly")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		slog.Warn("run: API shutdown failed", "error", serr)
	}
	sched.Stop(shutdownCtx)
	if serr := tr.service.Stop(); serr != nil {
		slog.Warn("run: transport stop failed", "error", serr)
	}
	wg.Wait()
	return err
}

// logReceipts drains delivery receipts into the debug log.
func logReceipts(ctx context.Context, receipts <-chan models.Receipt) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-receipts:
			if !ok {
				return
			}
			slog.Debug("logReceipts: receipt", "to", r.To, "status", r.Status)
		}
	}
}

// openTransport connects the configured chat provider.
func openTransport(cfg Config, flags Flags) (*transport, error) {
	switch *flags.provider {
	case ProviderWhatsApp:
		wa, err := whatsapp.NewClient(buildWhatsAppOptions(flags)...)
		if err != nil {
			return nil, fmt.Errorf("whatsapp client: %w", err)
		}
		return &transport{service: messaging.NewWhatsAppService(wa), close: wa.Disconnect}, nil
	case ProviderTwilio:
		tc, err := twiliowhatsapp.NewClient(buildTwilioOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(tc)
		if cfg.TwilioWebhookURL != "" {
			svc.RequireSignature(tc, cfg.TwilioWebhookURL)
		} else {
			slog.Warn("openTransport: TWILIO_WEBHOOK_URL not set, webhook signatures are not checked")
		}
		return &transport{service: svc, webhook: svc.WebhookHandler, close: func() {}}, nil
	default:
		return nil, fmt.Errorf("unknown messaging provider %q", *flags.provider)
	}
}
