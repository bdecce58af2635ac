// Package reconciler is the Reconciler (spec §4.7): it diffs desired
// records (from the Record Generator) against records this controller
// owns in the DNS backend, and converges the backend towards the
// desired state.
//
// The diff shape — build a table of desired-by-key, compare it against
// owned-by-key, decide create/delete/no-op per key — is a generalization
// of plan/plan.go's planTable: the teacher keys by (dnsName,
// setIdentifier) and supports in-place Update; this reconciler keys by
// generator.DesiredRecord.Key() and never updates in place (spec
// invariant 2: any difference in proxied/comment triggers a
// delete-then-create instead), so there is no UpdateOld/UpdateNew pair
// to carry, only Create/Delete.
package reconciler

import (
	"context"

	"github.com/google/go-cmp/cmp"
	log "github.com/sirupsen/logrus"

	"github.com/meshdns-controller/meshdns-controller/internal/cidr"
	"github.com/meshdns-controller/meshdns-controller/internal/dnsbackend"
	"github.com/meshdns-controller/meshdns-controller/internal/generator"
	"github.com/meshdns-controller/meshdns-controller/internal/machine"
)

// ownedFields is the projection of an owned/desired record pair that
// diff compares to decide whether an existing record must be
// recreated (spec invariant 2: comment or proxied status differing
// triggers delete-then-create, never an in-place update).
type ownedFields struct {
	Comment string
	Proxied bool
}

// SyncSummary mirrors spec §4.7's SyncResult.summary.
type SyncSummary struct {
	MachinesFetched int `json:"machinesFetched"`
	TasksEvaluated  int `json:"tasksEvaluated"`
	ZonesTouched    int `json:"zonesTouched"`
}

// SyncResult is spec §4.7's SyncResult.
type SyncResult struct {
	Added   []*generator.DesiredRecord `json:"added"`
	Deleted []*dnsbackend.OwnedRecord  `json:"deleted"`
	Managed int                        `json:"managed"`
	Summary SyncSummary                `json:"summary"`
	DryRun  bool                       `json:"dryRun"`

	// ZoneErrors carries per-zone apply failures from a non-dry-run sync
	// (spec §4.7: a zone failure does not abort the rest).
	ZoneErrors map[string]error `json:"zoneErrors,omitempty"`
}

// InventoryClient is the subset of internal/inventory's Client the
// reconciler depends on.
type InventoryClient interface {
	ListMachines(ctx context.Context) ([]*machine.Machine, error)
}

// BackendClient is the subset of internal/dnsbackend's Backend the
// reconciler depends on.
type BackendClient interface {
	ResolveZone(ctx context.Context, recordName string) (string, error)
	ListZoneIDs(ctx context.Context) ([]string, error)
	ListOwnedRecords(ctx context.Context, zoneID, ownershipPrefix string) ([]*dnsbackend.OwnedRecord, error)
	BatchApplyMulti(ctx context.Context, batches []dnsbackend.ZoneBatch) *dnsbackend.MultiApplyResult
}

// Reconciler runs sync passes.
type Reconciler struct {
	inventory InventoryClient
	backend   BackendClient
}

func New(inventory InventoryClient, backend BackendClient) *Reconciler {
	return &Reconciler{inventory: inventory, backend: backend}
}

// Sync runs one full reconciliation pass (spec §4.7 steps 1-6): fetch
// machines, project every enabled task's desired records, resolve each
// record's zone, diff against owned records per zone, and (unless
// dryRun) apply the resulting batches.
func (r *Reconciler) Sync(ctx context.Context, ownerID string, tasks []*generator.GenerationTask, namedLists map[string]*cidr.List, dryRun bool) (*SyncResult, error) {
	machines, err := r.inventory.ListMachines(ctx)
	if err != nil {
		return nil, err
	}

	desired := generateDesired(tasks, machines, ownerID, namedLists)

	zoneGroups := r.groupByZone(ctx, desired)

	allZoneIDs, err := r.backend.ListZoneIDs(ctx)
	if err != nil {
		return nil, err
	}
	for _, zoneID := range allZoneIDs {
		if _, ok := zoneGroups[zoneID]; !ok {
			zoneGroups[zoneID] = nil
		}
	}

	result := &SyncResult{
		DryRun: dryRun,
		Summary: SyncSummary{
			MachinesFetched: len(machines),
			TasksEvaluated:  countEnabled(tasks),
		},
	}

	ownershipPrefix := generator.OwnershipPrefix(ownerID)
	var batches []dnsbackend.ZoneBatch

	for zoneID, group := range zoneGroups {
		owned, err := r.backend.ListOwnedRecords(ctx, zoneID, ownershipPrefix)
		if err != nil {
			return nil, err
		}
		if len(group) == 0 && len(owned) == 0 {
			continue
		}
		result.Summary.ZonesTouched++

		ownedByKey, dupes := indexOwned(owned)
		for _, d := range dupes {
			log.WithField("zone", zoneID).WithField("key", d.Key()).
				Warn("duplicate owned record detected, forcing deletion of extras")
		}

		toCreate, toDelete := diff(group, ownedByKey)
		toDelete = append(toDelete, dupes...)

		result.Added = append(result.Added, toCreate...)
		result.Deleted = append(result.Deleted, toDelete...)
		result.Managed += len(ownedByKey)

		if len(toCreate) == 0 && len(toDelete) == 0 {
			continue
		}

		var ops []dnsbackend.BatchOp
		for _, del := range toDelete {
			ops = append(ops, dnsbackend.BatchOp{Delete: del})
		}
		for _, create := range toCreate {
			ops = append(ops, dnsbackend.BatchOp{Create: create})
		}
		batches = append(batches, dnsbackend.ZoneBatch{ZoneID: zoneID, Ops: ops})
	}

	if dryRun || len(batches) == 0 {
		return result, nil
	}

	applyResult := r.backend.BatchApplyMulti(ctx, batches)
	result.ZoneErrors = applyResult.Errors
	return result, nil
}

func countEnabled(tasks []*generator.GenerationTask) int {
	n := 0
	for _, t := range tasks {
		if t.Enabled {
			n++
		}
	}
	return n
}

// generateDesired runs every enabled task and folds the results into a
// map keyed by record key; on a key collision the record from the
// later task (in task-list order) wins (spec §4.7's "last task wins").
func generateDesired(tasks []*generator.GenerationTask, machines []*machine.Machine, ownerID string, namedLists map[string]*cidr.List) map[string]*generator.DesiredRecord {
	byKey := make(map[string]*generator.DesiredRecord)
	for _, task := range tasks {
		for _, rec := range generator.Generate(task, machines, ownerID, namedLists) {
			byKey[rec.Key()] = rec
		}
	}
	return byKey
}

// groupByZone resolves each desired record's zone and groups records by
// zone ID. A record whose name matches no hosted zone is dropped with a
// warning rather than failing the whole sync.
func (r *Reconciler) groupByZone(ctx context.Context, desired map[string]*generator.DesiredRecord) map[string][]*generator.DesiredRecord {
	groups := make(map[string][]*generator.DesiredRecord)
	for _, rec := range desired {
		zoneID, err := r.backend.ResolveZone(ctx, rec.Name)
		if err != nil {
			log.WithField("name", rec.Name).WithError(err).Warn("skipping record with no matching zone")
			continue
		}
		groups[zoneID] = append(groups[zoneID], rec)
	}
	return groups
}

// indexOwned builds a key->record index of owned records, separating out
// duplicate entries sharing the same key (a pre-existing inconsistency
// the reconciler repairs by deleting every duplicate beyond the first).
func indexOwned(owned []*dnsbackend.OwnedRecord) (map[string]*dnsbackend.OwnedRecord, []*dnsbackend.OwnedRecord) {
	byKey := make(map[string]*dnsbackend.OwnedRecord, len(owned))
	var dupes []*dnsbackend.OwnedRecord
	for _, rec := range owned {
		key := rec.Key()
		if _, exists := byKey[key]; exists {
			dupes = append(dupes, rec)
			continue
		}
		byKey[key] = rec
	}
	return byKey, dupes
}

// diff compares desired (by key) against owned (by key), per spec
// invariants 1-3:
//   - a desired key absent from owned is created
//   - a desired key present in owned, but whose comment or proxied
//     status differs, is deleted and recreated (no in-place update)
//   - an owned key absent from desired is deleted, since its key already
//     encodes ownership (it was returned by ListOwnedRecords's
//     comment-prefix filter)
func diff(desired []*generator.DesiredRecord, owned map[string]*dnsbackend.OwnedRecord) (create []*generator.DesiredRecord, del []*dnsbackend.OwnedRecord) {
	seen := make(map[string]struct{}, len(desired))
	for _, want := range desired {
		key := want.Key()
		seen[key] = struct{}{}

		have, ok := owned[key]
		if !ok {
			create = append(create, want)
			continue
		}
		haveFields := ownedFields{Comment: have.Comment, Proxied: have.Proxied}
		wantFields := ownedFields{Comment: want.Comment, Proxied: want.Proxied}
		if !cmp.Equal(haveFields, wantFields) {
			del = append(del, have)
			create = append(create, want)
		}
	}

	for key, have := range owned {
		if _, wanted := seen[key]; !wanted {
			del = append(del, have)
		}
	}
	return create, del
}
