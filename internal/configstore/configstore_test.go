package configstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDoc() *Document {
	return &Document{
		OwnerID: "owner1",
		NamedCIDRLists: []NamedCIDRList{
			{Name: "lan", CIDRs: []string{"10.0.0.0/8"}, Mode: "multiple"},
		},
		GenerationTasks: []GenerationTaskDoc{
			{
				ID:              "web",
				Enabled:         true,
				MachineSelector: MachineSelectorDoc{Field: "tag", Pattern: "tag:web"},
				RecordTemplates: []RecordTemplateDoc{
					{RecordType: "A", Name: "{{machineName}}.example.com", Value: "{{tailscaleIP}}"},
				},
			},
		},
		Credentials: Credentials{InventoryAPIKey: "key-1", DNSBackendAPIToken: "token-1", WebhookSecret: "secret-1"},
	}
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	store := New(NewInMemoryStore())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, validDoc()))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "owner1", loaded.OwnerID)
	assert.Equal(t, "key-1", loaded.Credentials.InventoryAPIKey)
}

func TestLoadMasked_HidesSecrets(t *testing.T) {
	store := New(NewInMemoryStore())
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, validDoc()))

	masked, err := store.LoadMasked(ctx)
	require.NoError(t, err)
	assert.Equal(t, maskLiteral, masked.Credentials.InventoryAPIKey)
	assert.Equal(t, maskLiteral, masked.Credentials.DNSBackendAPIToken)
	assert.Equal(t, maskLiteral, masked.Credentials.WebhookSecret)
}

// Invariant 8: writing back a masked document (mask literal in place of
// a real secret) preserves the previously stored secret.
func TestSave_MaskLiteralPreservesPriorSecret(t *testing.T) {
	store := New(NewInMemoryStore())
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, validDoc()))

	update := validDoc()
	update.Credentials.InventoryAPIKey = maskLiteral
	update.Credentials.WebhookSecret = "new-secret"
	require.NoError(t, store.Save(ctx, update))

	loaded, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "key-1", loaded.Credentials.InventoryAPIKey, "masked field preserves prior value")
	assert.Equal(t, "new-secret", loaded.Credentials.WebhookSecret, "non-masked field updates normally")
}

func TestSave_RejectsMissingOwnerID(t *testing.T) {
	store := New(NewInMemoryStore())
	doc := validDoc()
	doc.OwnerID = ""
	err := store.Save(context.Background(), doc)
	assert.Error(t, err)
}

func TestSave_RejectsDuplicateCIDRListNames(t *testing.T) {
	store := New(NewInMemoryStore())
	doc := validDoc()
	doc.NamedCIDRLists = append(doc.NamedCIDRLists, NamedCIDRList{Name: "lan", CIDRs: []string{"172.16.0.0/12"}, Mode: "multiple"})
	err := store.Save(context.Background(), doc)
	assert.Error(t, err)
}

func TestSave_RejectsEnabledTaskWithNoTemplates(t *testing.T) {
	store := New(NewInMemoryStore())
	doc := validDoc()
	doc.GenerationTasks[0].RecordTemplates = nil
	err := store.Save(context.Background(), doc)
	assert.Error(t, err)
}

func TestListInUse_DetectsReferencedList(t *testing.T) {
	doc := validDoc()
	doc.GenerationTasks[0].RecordTemplates[0].Value = "{{cidr.lan}}"
	assert.True(t, ListInUse(doc, "lan"))
	assert.False(t, ListInUse(doc, "other"))
}

func TestListInUse_DetectsReferenceFromDisabledTask(t *testing.T) {
	doc := validDoc()
	doc.GenerationTasks[0].Enabled = false
	doc.GenerationTasks[0].RecordTemplates[0].Value = "{{cidr.lan}}"
	assert.True(t, ListInUse(doc, "lan"))
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.json"

	store1 := New(NewFileStore(path))
	require.NoError(t, store1.Save(context.Background(), validDoc()))

	store2 := New(NewFileStore(path))
	loaded, err := store2.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "owner1", loaded.OwnerID)
}

func TestLoad_EmptyStoreReturnsZeroValueDocument(t *testing.T) {
	store := New(NewInMemoryStore())
	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", loaded.OwnerID)
}
