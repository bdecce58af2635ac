// Package dnsbackend is the DNS Backend Client (spec §4.3): it resolves
// the Cloudflare zone owning a record name, lists records this
// controller owns, and applies batched create/delete operations.
//
// It is modeled directly on the teacher's Cloudflare provider
// (provider/cloudflare/cloudflare.go): the same cloudflare-go client
// surface (ListZones, ListDNSRecords, CreateDNSRecord,
// DeleteDNSRecord), the same auto-pagination loop
// (listDNSRecordsWithAutoPagination), and the same record-comment
// convention used there to carry extra metadata on a record. The TTL
// cache around zone resolution is grounded on provider/cached_provider.go's
// lastRead/needRefresh shape, narrowed from a whole-records cache to the
// zone name -> zone ID listing. Name normalization reuses internal/idna, the
// same IDNA folding endpoint/domain_filter.go applies before comparing
// DNS names, so a unicode machine name and its ASCII form resolve to the
// same zone and the same owned-record key.
package dnsbackend

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/meshdns-controller/meshdns-controller/internal/apperrors"
	"github.com/meshdns-controller/meshdns-controller/internal/generator"
	"github.com/meshdns-controller/meshdns-controller/internal/idna"
)

// zoneCacheTTL is how long a resolved zone ID is trusted before the next
// lookup re-queries the backend (spec §4.3).
const zoneCacheTTL = 5 * time.Minute

// maxBatchSize bounds the number of create/delete operations issued to a
// single zone in one call (spec §4.7: chunks of <=200 ops).
const maxBatchSize = 200

// Client is the subset of cloudflare-go's API this package depends on,
// narrowed the way the teacher narrows it behind its own zoneService
// interface (provider/cloudflare/cloudflare.go) so tests can fake it.
type Client interface {
	ListZones(ctx context.Context, zoneName ...string) ([]cloudflare.Zone, error)
	ListDNSRecords(ctx context.Context, rc *cloudflare.ResourceContainer, rp cloudflare.ListDNSRecordsParams) ([]cloudflare.DNSRecord, *cloudflare.ResultInfo, error)
	CreateDNSRecord(ctx context.Context, rc *cloudflare.ResourceContainer, rp cloudflare.CreateDNSRecordParams) (cloudflare.DNSRecord, error)
	DeleteDNSRecord(ctx context.Context, rc *cloudflare.ResourceContainer, recordID string) error
}

type zoneCacheEntry struct {
	zoneID    string
	expiresAt time.Time
}

// Backend is the DNS Backend Client.
type Backend struct {
	client Client

	mu    sync.Mutex
	cache map[string]zoneCacheEntry
}

// NewBackend wraps an already-authenticated cloudflare-go API client.
func NewBackend(client Client) *Backend {
	return &Backend{
		client: client,
		cache:  make(map[string]zoneCacheEntry),
	}
}

func normalizeName(name string) string {
	return strings.TrimSuffix(idna.NormalizeDNSName(name), ".")
}

// ResolveZone returns the zone ID whose name is the longest proper DNS
// suffix of recordName (spec invariant 6 / scenario S6). The zone listing
// is cached per zone name for zoneCacheTTL, so record names under
// already-listed zones are resolved without another ListZones call.
func (b *Backend) ResolveZone(ctx context.Context, recordName string) (string, error) {
	name := normalizeName(recordName)

	b.mu.Lock()
	var cached []cloudflare.Zone
	now := time.Now()
	for zn, entry := range b.cache {
		if now.Before(entry.expiresAt) {
			cached = append(cached, cloudflare.Zone{ID: entry.zoneID, Name: zn})
		}
	}
	b.mu.Unlock()
	if zoneID, _, err := pickLongestSuffixZone(name, cached); err == nil {
		return zoneID, nil
	}

	zones, err := b.client.ListZones(ctx)
	if err != nil {
		return "", apperrors.NewApiError("cloudflare", 0, err)
	}

	zoneID, zoneName, err := pickLongestSuffixZone(name, zones)
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	expiresAt := time.Now().Add(zoneCacheTTL)
	for _, z := range zones {
		b.cache[normalizeName(z.Name)] = zoneCacheEntry{zoneID: z.ID, expiresAt: expiresAt}
	}
	b.mu.Unlock()

	log.WithField("record", recordName).WithField("zone", zoneName).Debug("resolved dns zone")
	return zoneID, nil
}

// pickLongestSuffixZone finds, among zones whose name is a proper DNS
// suffix of name (i.e. name equals the zone name or ends in "."+zoneName),
// the one with the longest name — the most specific apex.
func pickLongestSuffixZone(name string, zones []cloudflare.Zone) (id string, zoneName string, err error) {
	bestLen := -1
	for _, z := range zones {
		zn := normalizeName(z.Name)
		if name != zn && !strings.HasSuffix(name, "."+zn) {
			continue
		}
		if len(zn) > bestLen {
			bestLen = len(zn)
			id = z.ID
			zoneName = zn
		}
	}
	if id == "" {
		return "", "", apperrors.NewAppError("resolve zone", errors.Errorf("no hosted zone matches %q", name))
	}
	return id, zoneName, nil
}

// ListZoneIDs returns every hosted zone ID visible to this account, so
// the reconciler can find owned records in zones that no longer have any
// desired records (spec invariant 3: fully-abandoned zones still get
// their stale records deleted).
func (b *Backend) ListZoneIDs(ctx context.Context) ([]string, error) {
	zones, err := b.client.ListZones(ctx)
	if err != nil {
		return nil, apperrors.NewApiError("cloudflare", 0, err)
	}
	ids := make([]string, len(zones))
	for i, z := range zones {
		ids[i] = z.ID
	}
	return ids, nil
}

// OwnedRecord is a record read back from the backend, tagged with whether
// its comment carries this controller's ownership prefix.
type OwnedRecord struct {
	ID       string
	Type     string
	Name     string
	Content  string
	TTL      int
	Proxied  bool
	Priority int
	Weight   int
	Port     int
	Comment  string
}

// Key mirrors generator.DesiredRecord.Key so owned and desired records
// compare on identical terms.
func (r *OwnedRecord) Key() string {
	d := &generator.DesiredRecord{
		Type: r.Type, Name: r.Name, Content: r.Content,
		Priority: r.Priority, Weight: r.Weight, Port: r.Port,
	}
	return d.Key()
}

// ListOwnedRecords lists every record in zoneID whose comment starts with
// ownershipPrefix, auto-paginating the way listDNSRecordsWithAutoPagination
// does in the teacher.
func (b *Backend) ListOwnedRecords(ctx context.Context, zoneID, ownershipPrefix string) ([]*OwnedRecord, error) {
	var out []*OwnedRecord
	resultInfo := cloudflare.ResultInfo{PerPage: 100, Page: 1}
	params := cloudflare.ListDNSRecordsParams{ResultInfo: resultInfo}

	for {
		records, info, err := b.client.ListDNSRecords(ctx, cloudflare.ZoneIdentifier(zoneID), params)
		if err != nil {
			return nil, apperrors.NewApiError("cloudflare", 0, err)
		}
		for _, r := range records {
			if !strings.HasPrefix(r.Comment, ownershipPrefix) {
				continue
			}
			out = append(out, fromCloudflareRecord(r))
		}
		params.ResultInfo = info.Next()
		if params.Done() {
			break
		}
	}
	return out, nil
}

func fromCloudflareRecord(r cloudflare.DNSRecord) *OwnedRecord {
	rec := &OwnedRecord{
		ID:      r.ID,
		Type:    r.Type,
		Name:    r.Name,
		Content: r.Content,
		TTL:     r.TTL,
		Comment: r.Comment,
	}
	if r.Proxied != nil {
		rec.Proxied = *r.Proxied
	}
	if r.Priority != nil {
		rec.Priority = int(*r.Priority)
	}
	if data, ok := r.Data.(map[string]interface{}); ok {
		if w, ok := data["weight"].(float64); ok {
			rec.Weight = int(w)
		}
		if p, ok := data["port"].(float64); ok {
			rec.Port = int(p)
		}
	}
	return rec
}

// BatchOp is one create or delete to apply within a single zone.
type BatchOp struct {
	Delete *OwnedRecord
	Create *generator.DesiredRecord
}

// BatchApply applies ops to a single zone, deletes before creates, per
// spec §4.7. It does not chunk — callers chunk across BatchApplyMulti.
func (b *Backend) BatchApply(ctx context.Context, zoneID string, ops []BatchOp) error {
	rc := cloudflare.ZoneIdentifier(zoneID)

	for _, op := range ops {
		if op.Delete == nil {
			continue
		}
		if err := b.client.DeleteDNSRecord(ctx, rc, op.Delete.ID); err != nil {
			return apperrors.NewApiError("cloudflare", 0, errors.Wrapf(err, "delete record %s", op.Delete.Name))
		}
	}
	for _, op := range ops {
		if op.Create == nil {
			continue
		}
		params := toCreateParams(op.Create)
		if _, err := b.client.CreateDNSRecord(ctx, rc, params); err != nil {
			return apperrors.NewApiError("cloudflare", 0, errors.Wrapf(err, "create record %s", op.Create.Name))
		}
	}
	return nil
}

func toCreateParams(d *generator.DesiredRecord) cloudflare.CreateDNSRecordParams {
	params := cloudflare.CreateDNSRecordParams{
		Type:    d.Type,
		Name:    d.Name,
		Content: d.Content,
		TTL:     d.TTL,
		Comment: d.Comment,
	}
	if d.Type != generator.RecordTypeSRV {
		params.Proxied = &d.Proxied
	}
	if d.Type == generator.RecordTypeSRV {
		params.Priority = uint16Ptr(d.Priority)
		params.Data = map[string]interface{}{
			"priority": d.Priority,
			"weight":   d.Weight,
			"port":     d.Port,
			"target":   d.Content,
		}
	}
	return params
}

func uint16Ptr(v int) *uint16 {
	u := uint16(v)
	return &u
}

// ZoneBatch groups a single zone's operations for BatchApplyMulti.
type ZoneBatch struct {
	ZoneID string
	Ops    []BatchOp
}

// MultiApplyResult reports per-zone outcomes of BatchApplyMulti.
type MultiApplyResult struct {
	Applied int
	Errors  map[string]error // zoneID -> error, for zones that failed
}

// BatchApplyMulti issues the given per-zone batches (callers group records
// by zone beforehand), in chunks of at most maxBatchSize. A failure in one
// zone's batch is recorded but does not abort or roll back other zones'
// batches (spec §4.7: zones are applied independently).
func (b *Backend) BatchApplyMulti(ctx context.Context, batches []ZoneBatch) *MultiApplyResult {
	result := &MultiApplyResult{Errors: make(map[string]error)}

	for _, zb := range batches {
		for start := 0; start < len(zb.Ops); start += maxBatchSize {
			end := start + maxBatchSize
			if end > len(zb.Ops) {
				end = len(zb.Ops)
			}
			chunk := zb.Ops[start:end]
			if err := b.BatchApply(ctx, zb.ZoneID, chunk); err != nil {
				log.WithField("zone", zb.ZoneID).WithError(err).Error("batch apply failed")
				result.Errors[zb.ZoneID] = err
				break
			}
			result.Applied += len(chunk)
		}
	}
	return result
}
