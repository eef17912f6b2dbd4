// Package worker provides async message processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/callguard-ai/callguard/internal/analysis"
	"github.com/callguard-ai/callguard/internal/domain"
)

// Worker processes ingested calls asynchronously from the EventBus.
// The analysis service publishes the completed result and any alert;
// the worker only drives the pipeline.
type Worker struct {
	bus     domain.EventBus
	service *analysis.Service

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, service *analysis.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		service: service,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicCallIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicCallIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.processCall(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicCallIngested,
	)

	return nil
}

// handleMessage handles messages from global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processCall(ctx, msg.TenantID, msg)
}

// processCall runs one ingested call through the analysis pipeline.
// The payload schema is domain.CallMessage, shared with the API's
// async ingestion endpoint.
func (w *Worker) processCall(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var callMsg domain.CallMessage
	if err := json.Unmarshal(msg.Payload, &callMsg); err != nil {
		slog.Error("failed to parse call message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if callMsg.TenantID != "" {
		tenantID = callMsg.TenantID
	}

	traceID := callMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing call",
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	result, err := w.service.AnalyzeCall(ctx, tenantID, &analysis.Request{
		Transcript:      callMsg.Transcript,
		Acoustic:        callMsg.Acoustic,
		Linguistic:      callMsg.Linguistic,
		LanguageHint:    callMsg.Language,
		CallerNumber:    callMsg.CallerNumber,
		DurationSeconds: callMsg.Duration,
	})
	if err != nil {
		// Invalid payloads are dropped after logging: retrying cannot fix them.
		slog.Error("call analysis failed",
			"tenant_id", tenantID,
			"trace_id", traceID,
			"error", err,
		)
		return err
	}

	slog.Info("call processed",
		"analysis_id", result.ID,
		"call_id", result.CallID,
		"tenant_id", tenantID,
		"classification", result.Result.Classification,
		"risk_score", result.Result.RiskScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
