package trigger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshdns-controller/meshdns-controller/internal/cidr"
	"github.com/meshdns-controller/meshdns-controller/internal/dnsbackend"
	"github.com/meshdns-controller/meshdns-controller/internal/generator"
	"github.com/meshdns-controller/meshdns-controller/internal/machine"
	"github.com/meshdns-controller/meshdns-controller/internal/reconciler"
	"github.com/meshdns-controller/meshdns-controller/internal/selector"
)

type fakeInventory struct {
	machines []*machine.Machine
}

func (f *fakeInventory) ListMachines(ctx context.Context) ([]*machine.Machine, error) {
	return f.machines, nil
}

type fakeBackend struct{}

func (f *fakeBackend) ResolveZone(ctx context.Context, recordName string) (string, error) {
	return "zone-1", nil
}
func (f *fakeBackend) ListZoneIDs(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeBackend) ListOwnedRecords(ctx context.Context, zoneID, prefix string) ([]*dnsbackend.OwnedRecord, error) {
	return nil, nil
}
func (f *fakeBackend) BatchApplyMulti(ctx context.Context, batches []dnsbackend.ZoneBatch) *dnsbackend.MultiApplyResult {
	return &dnsbackend.MultiApplyResult{Applied: 0, Errors: map[string]error{}}
}

func testTask() *generator.GenerationTask {
	rt := &generator.RecordTemplate{RecordType: generator.RecordTypeA, Name: "{{machineName}}.example.com", Value: "{{tailscaleIP}}"}
	rt.Compile()
	s := &selector.Selector{Field: "tag", Pattern: "tag:web"}
	s.Compile()
	return &generator.GenerationTask{ID: "web", Enabled: true, MachineSelector: s, RecordTemplates: []*generator.RecordTemplate{rt}}
}

func testMachine() *machine.Machine {
	return &machine.Machine{
		Name:               "web01",
		Tags:               []string{"tag:web"},
		ClientConnectivity: machine.ClientConnectivity{Endpoints: []string{"10.0.0.5:1"}},
	}
}

func newLoop() *Loop {
	r := reconciler.New(&fakeInventory{machines: []*machine.Machine{testMachine()}}, &fakeBackend{})
	return &Loop{
		Interval:   time.Minute,
		MinSyncGap: 30 * time.Second,
		OwnerID:    "owner1",
		Runner:     r,
		LoadConfig: func() ([]*generator.GenerationTask, map[string]*cidr.List, error) {
			return []*generator.GenerationTask{testTask()}, nil, nil
		},
		LoadMachines: func(ctx context.Context) ([]*machine.Machine, error) {
			return []*machine.Machine{testMachine()}, nil
		},
	}
}

func TestHandleManualSync_ReturnsSyncResult(t *testing.T) {
	loop := newLoop()
	req := httptest.NewRequest(http.MethodPost, "/manual-sync", nil)
	w := httptest.NewRecorder()

	loop.HandleManualSync(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
}

func TestHandleManualSync_RejectsGET(t *testing.T) {
	loop := newLoop()
	req := httptest.NewRequest(http.MethodGet, "/manual-sync", nil)
	w := httptest.NewRecorder()

	loop.HandleManualSync(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSyncStatus_IsDryRun(t *testing.T) {
	loop := newLoop()
	req := httptest.NewRequest(http.MethodGet, "/sync-status", nil)
	w := httptest.NewRecorder()

	loop.HandleSyncStatus(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["dryRun"])
}

func TestHandlePreview_ReturnsGeneratedRecordsForDraftTask(t *testing.T) {
	loop := newLoop()
	draft := `{
		"task": {
			"id": "draft",
			"enabled": true,
			"machineSelector": {"field": "tag", "pattern": "tag:web"},
			"recordTemplates": [
				{"recordType": "A", "name": "{{machineName}}.example.com", "value": "{{tailscaleIP}}"}
			]
		}
	}`
	req := httptest.NewRequest(http.MethodPost, "/preview", strings.NewReader(draft))
	w := httptest.NewRecorder()

	loop.HandlePreview(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	records, ok := body["records"].([]interface{})
	require.True(t, ok)
	require.Len(t, records, 1)
	assert.Equal(t, false, body["truncated"])
}

func TestHandlePreview_RejectsInvalidJSON(t *testing.T) {
	loop := newLoop()
	req := httptest.NewRequest(http.MethodPost, "/preview", strings.NewReader("not json"))
	w := httptest.NewRecorder()

	loop.HandlePreview(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleWebhook_PostRejectsBadSignature(t *testing.T) {
	loop := newLoop()
	loop.WebhookSecret = "s3cr3t"
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{"type":"nodeCreated"}`))
	req.Header.Set("X-Tailscale-Signature", "sha256=deadbeef")
	w := httptest.NewRecorder()

	loop.HandleWebhook(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleWebhook_PostAcceptsValidSignatureAndSchedulesRun(t *testing.T) {
	loop := newLoop()
	loop.WebhookSecret = "s3cr3t"
	payload := `{"type":"nodeCreated"}`
	mac := hmac.New(sha256.New, []byte(loop.WebhookSecret))
	mac.Write([]byte(payload))
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(payload))
	req.Header.Set("X-Tailscale-Signature", sig)
	w := httptest.NewRecorder()

	before := loop.nextRunAt
	loop.HandleWebhook(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, before, loop.nextRunAt)
}

func TestScheduleRunOnce_RespectsMinSyncGapFloor(t *testing.T) {
	loop := newLoop()
	now := time.Now()
	loop.lastRunAt = now
	loop.ScheduleRunOnce(now)

	assert.True(t, loop.nextRunAt.Sub(now) >= loop.MinSyncGap)
}

func TestShouldRunOnce_FalseBeforeScheduledTime(t *testing.T) {
	loop := newLoop()
	now := time.Now()
	loop.nextRunAt = now.Add(time.Hour)
	assert.False(t, loop.shouldRunOnce(now))
}

func TestShouldRunOnce_TrueAndAdvancesAfterDue(t *testing.T) {
	loop := newLoop()
	now := time.Now()
	loop.nextRunAt = now.Add(-time.Second)
	assert.True(t, loop.shouldRunOnce(now))
	assert.True(t, loop.nextRunAt.After(now))
}
