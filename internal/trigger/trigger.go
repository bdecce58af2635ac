// Package trigger is the Trigger Layer (spec §4.8): a cron-tick loop
// that calls the reconciler on an interval, a webhook receiver that
// schedules a sync (via ScheduleRunOnce) on inventory change
// notifications, and manual HTTP endpoints for an on-demand sync, a
// dry-run status check, and a generator preview.
//
// The tick loop's shape (shouldRunOnce/ScheduleRunOnce/Run) is lifted
// directly from controller/controller.go: a 1-second ticker checks
// whether enough time has passed since the last run, so a webhook-driven
// ScheduleRunOnce call can pull the next run forward without fighting
// the cron loop for the run itself. The net/http wiring (no router
// library) is grounded on cmd/external-dns/main.go's serveMetrics and
// provider/webhook/webhook.go's request handling.
package trigger

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/meshdns-controller/meshdns-controller/internal/apperrors"
	"github.com/meshdns-controller/meshdns-controller/internal/cidr"
	"github.com/meshdns-controller/meshdns-controller/internal/configstore"
	"github.com/meshdns-controller/meshdns-controller/internal/generator"
	"github.com/meshdns-controller/meshdns-controller/internal/inventory"
	"github.com/meshdns-controller/meshdns-controller/internal/machine"
	"github.com/meshdns-controller/meshdns-controller/internal/metrics"
	"github.com/meshdns-controller/meshdns-controller/internal/reconciler"
)

// previewLimit caps the number of records a preview request returns
// (spec §4.8's manual preview endpoint).
const previewLimit = 500

// Loop owns the cron-tick scheduling and HTTP endpoints.
type Loop struct {
	Interval      time.Duration
	MinSyncGap    time.Duration
	OwnerID       string
	WebhookSecret string
	WebhookURL    string

	Inventory *inventory.Client
	Runner    *reconciler.Reconciler

	// LoadConfig returns the current generation tasks and named CIDR
	// lists, read fresh from the Config Store on every call.
	LoadConfig func() ([]*generator.GenerationTask, map[string]*cidr.List, error)

	// LoadMachines fetches the current machine inventory, used by
	// HandlePreview to evaluate tasks without touching the DNS backend.
	LoadMachines func(ctx context.Context) ([]*machine.Machine, error)

	mu        sync.Mutex
	lastRunAt time.Time
	nextRunAt time.Time
}

// ScheduleRunOnce pulls the next scheduled run forward to at most
// MinSyncGap after the last run, or 5s from now, whichever is later —
// the same latest(lastRunAt+gap, earliest(now+5s, nextRunAt)) rule the
// teacher's controller uses, so a burst of webhook events collapses into
// one imminent run instead of one run per event.
func (l *Loop) ScheduleRunOnce(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	floor := l.lastRunAt.Add(l.MinSyncGap)
	ceiling := now.Add(5 * time.Second)
	if !l.nextRunAt.IsZero() && l.nextRunAt.Before(ceiling) {
		ceiling = l.nextRunAt
	}
	if floor.After(ceiling) {
		l.nextRunAt = floor
	} else {
		l.nextRunAt = ceiling
	}
}

func (l *Loop) shouldRunOnce(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Before(l.nextRunAt) {
		return false
	}
	l.nextRunAt = now.Add(l.Interval)
	return true
}

// RunOnce executes a single, non-dry-run sync pass and records its
// outcome under the given trigger label (spec §4.8: one of "cron",
// "webhook", "manual").
func (l *Loop) RunOnce(ctx context.Context, trigger string) (*reconciler.SyncResult, error) {
	tasks, lists, err := l.LoadConfig()
	if err != nil {
		metrics.RecordSyncOutcome(trigger, "error", 0, 0, 0)
		return nil, err
	}
	result, err := l.Runner.Sync(ctx, l.OwnerID, tasks, lists, false)
	l.mu.Lock()
	l.lastRunAt = time.Now()
	l.mu.Unlock()

	if err != nil {
		metrics.RecordSyncOutcome(trigger, "error", 0, 0, 0)
		return nil, err
	}

	outcome := "success"
	for zoneID, zerr := range result.ZoneErrors {
		metrics.ZoneErrorsTotal.WithLabelValues(zoneID).Inc()
		log.WithField("zone", zoneID).WithError(zerr).Error("zone apply failed")
		outcome = "partial"
	}
	metrics.RecordSyncOutcome(trigger, outcome, len(result.Added), len(result.Deleted), result.Managed)
	metrics.LastSyncTimestampSeconds.Set(float64(l.lastRunAt.Unix()))
	return result, nil
}

// Run drives RunOnce on a 1-second ticker until ctx is canceled,
// executing only when shouldRunOnce says a cycle is due.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		if l.shouldRunOnce(time.Now()) {
			if _, err := l.RunOnce(ctx, "cron"); err != nil {
				log.WithError(err).Error("scheduled sync failed")
			}
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			log.Info("terminating trigger loop")
			return
		}
	}
}

// jsonOK writes the success envelope (spec §4.8).
func jsonOK(w http.ResponseWriter, payload interface{}) {
	body := map[string]interface{}{"success": true}
	if payload != nil {
		b, _ := json.Marshal(payload)
		var m map[string]interface{}
		_ = json.Unmarshal(b, &m)
		for k, v := range m {
			body[k] = v
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

// jsonError writes the failure envelope (spec §4.8), mapping err to an
// HTTP status via apperrors.HTTPStatus.
func jsonError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   err.Error(),
	})
}

// HandleWebhook serves both the inventory webhook's POST notification
// (signature-validated, schedules a sync via ScheduleRunOnce) and a GET
// convenience request that re-runs the ensure-webhook protocol against
// WebhookURL and then runs a sync.
func (l *Loop) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		l.handleWebhookEnsure(w, r)
	case http.MethodPost:
		l.handleWebhookEvent(w, r)
	default:
		jsonError(w, apperrors.NewValidationError("method", "must be GET or POST"))
	}
}

func (l *Loop) handleWebhookEnsure(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wh, err := l.Inventory.EnsureWebhook(ctx, l.WebhookURL)
	if err != nil {
		jsonError(w, err)
		return
	}
	if _, err := l.RunOnce(ctx, "webhook"); err != nil {
		jsonError(w, err)
		return
	}
	jsonOK(w, map[string]interface{}{"webhookId": wh.ID, "subscriptions": wh.Subscriptions})
}

func (l *Loop) handleWebhookEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		jsonError(w, apperrors.NewAppError("read webhook body", err))
		return
	}
	sig := r.Header.Get("X-Tailscale-Signature")
	if !inventory.VerifySignature(l.WebhookSecret, body, sig) {
		jsonError(w, apperrors.NewValidationError("signature", "invalid webhook signature"))
		return
	}

	l.ScheduleRunOnce(time.Now())
	jsonOK(w, nil)
}

// HandleManualSync triggers an immediate, non-dry-run sync and returns
// its result synchronously (spec §4.8's POST /manual-sync).
func (l *Loop) HandleManualSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, apperrors.NewValidationError("method", "must be POST"))
		return
	}
	result, err := l.RunOnce(r.Context(), "manual")
	if err != nil {
		jsonError(w, err)
		return
	}
	jsonOK(w, result)
}

// HandleSyncStatus runs a dry-run sync and reports the resulting diff
// without applying it (spec §4.8's GET /sync-status).
func (l *Loop) HandleSyncStatus(w http.ResponseWriter, r *http.Request) {
	tasks, lists, err := l.LoadConfig()
	if err != nil {
		jsonError(w, err)
		return
	}
	result, err := l.Runner.Sync(r.Context(), l.OwnerID, tasks, lists, true)
	if err != nil {
		jsonError(w, err)
		return
	}
	jsonOK(w, result)
}

// previewRequest is the body HandlePreview decodes: an unpersisted task
// draft, plus any named CIDR lists its templates reference that are not
// yet saved to the Config Store. Lists already persisted are available
// to the draft without repeating them here.
type previewRequest struct {
	Task           configstore.GenerationTaskDoc `json:"task"`
	NamedCIDRLists []configstore.NamedCIDRList   `json:"namedCidrLists,omitempty"`
}

// HandlePreview runs the generator alone (no backend calls) against the
// current machine inventory, for an unpersisted task draft decoded from
// the request body, and returns up to previewLimit of the resulting
// desired records (spec §4.8's POST /preview, §6's "generator-only
// preview for an unpersisted task draft").
func (l *Loop) HandlePreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, apperrors.NewValidationError("method", "must be POST"))
		return
	}

	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, apperrors.NewValidationError("body", "invalid JSON: "+err.Error()))
		return
	}
	task := req.Task.ToGenerationTask()

	_, persistedLists, err := l.LoadConfig()
	if err != nil {
		jsonError(w, err)
		return
	}
	lists := make(map[string]*cidr.List, len(persistedLists)+len(req.NamedCIDRLists))
	for name, list := range persistedLists {
		lists[name] = list
	}
	for i := range req.NamedCIDRLists {
		compiled, err := req.NamedCIDRLists[i].ToCIDRList()
		if err != nil {
			jsonError(w, apperrors.NewValidationError("namedCidrLists", err.Error()))
			return
		}
		lists[compiled.Name] = compiled
	}

	machines, err := l.LoadMachines(r.Context())
	if err != nil {
		jsonError(w, err)
		return
	}

	var records []*generator.DesiredRecord
	truncated := false
	for _, rec := range generator.Generate(task, machines, l.OwnerID, lists) {
		if len(records) >= previewLimit {
			truncated = true
			break
		}
		records = append(records, rec)
	}

	jsonOK(w, map[string]interface{}{
		"records":   records,
		"truncated": truncated,
	})
}
