// Package configstore is the Config Store (spec §4.1): a generic KV
// contract over a single JSON configuration document (named CIDR lists,
// generation tasks, and inventory/DNS backend credentials), with a
// read-merge-write update path, schema validation, and secret masking on
// read.
//
// The storage shape — a single mutex-guarded in-memory map, read back in
// full and written back whole — is grounded on storage/inmemory.go's
// InMemoryStorage; the generic byte-oriented Get/Put contract below
// narrows that to a document store rather than an endpoint cache, since
// this spec's configuration is one JSON document, not a record set.
package configstore

import (
	"github.com/meshdns-controller/meshdns-controller/internal/cidr"
	"github.com/meshdns-controller/meshdns-controller/internal/generator"
	"github.com/meshdns-controller/meshdns-controller/internal/selector"
)

// NamedCIDRList is spec §3's NamedCIDRList document shape.
type NamedCIDRList struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	CIDRs       []string `json:"cidrs"`
	Mode        string   `json:"mode"` // "single" | "multiple"
	Inverse     bool     `json:"inverse,omitempty"`
}

// ToCIDRList compiles the document form into the runtime *cidr.List.
func (n *NamedCIDRList) ToCIDRList() (*cidr.List, error) {
	mode := cidr.ModeMultiple
	if n.Mode == "single" {
		mode = cidr.ModeSingle
	}
	l := &cidr.List{
		Name:        n.Name,
		Description: n.Description,
		CIDRs:       n.CIDRs,
		Mode:        mode,
		Inverse:     n.Inverse,
	}
	if err := l.Compile(); err != nil {
		return nil, err
	}
	return l, nil
}

// MachineSelectorDoc is spec §3's MachineSelector document shape.
type MachineSelectorDoc struct {
	Field   string `json:"field"`
	Pattern string `json:"pattern"`
}

func (s *MachineSelectorDoc) ToSelector() *selector.Selector {
	sel := &selector.Selector{Field: s.Field, Pattern: s.Pattern}
	sel.Compile()
	return sel
}

// RecordTemplateDoc is spec §3's RecordTemplate document shape.
type RecordTemplateDoc struct {
	RecordType string `json:"recordType"`
	Name       string `json:"name"`
	Value      string `json:"value"`
	TTL        int    `json:"ttl,omitempty"`
	Proxied    bool   `json:"proxied,omitempty"`

	Priority int `json:"priority,omitempty"`
	Weight   int `json:"weight,omitempty"`
	Port     int `json:"port,omitempty"`

	SRVPrefix string `json:"srvPrefix,omitempty"`
	SRVTarget string `json:"srvTarget,omitempty"`
}

func (d *RecordTemplateDoc) ToRecordTemplate() *generator.RecordTemplate {
	rt := &generator.RecordTemplate{
		RecordType: d.RecordType,
		Name:       d.Name,
		Value:      d.Value,
		TTL:        d.TTL,
		Proxied:    d.Proxied,
		Priority:   d.Priority,
		Weight:     d.Weight,
		Port:       d.Port,
		SRVPrefix:  d.SRVPrefix,
		SRVTarget:  d.SRVTarget,
	}
	rt.Compile()
	return rt
}

// GenerationTaskDoc is spec §3's GenerationTask document shape.
type GenerationTaskDoc struct {
	ID              string              `json:"id"`
	Name            string              `json:"name"`
	Description     string              `json:"description,omitempty"`
	Enabled         bool                `json:"enabled"`
	MachineSelector MachineSelectorDoc  `json:"machineSelector"`
	RecordTemplates []RecordTemplateDoc `json:"recordTemplates"`
}

func (d *GenerationTaskDoc) ToGenerationTask() *generator.GenerationTask {
	templates := make([]*generator.RecordTemplate, len(d.RecordTemplates))
	for i := range d.RecordTemplates {
		templates[i] = d.RecordTemplates[i].ToRecordTemplate()
	}
	return &generator.GenerationTask{
		ID:              d.ID,
		Name:            d.Name,
		Description:     d.Description,
		Enabled:         d.Enabled,
		MachineSelector: d.MachineSelector.ToSelector(),
		RecordTemplates: templates,
	}
}

// maskLiteral is the sentinel value callers write in place of a real
// secret to mean "keep the stored value unchanged" (spec §4.1/invariant
// 8). It is never itself a value that could come from a real Cloudflare
// API token or webhook secret.
const maskLiteral = "********"

// Credentials holds the inventory API key and DNS backend credentials.
type Credentials struct {
	InventoryAPIKey    string `json:"inventoryApiKey"`
	DNSBackendAPIToken string `json:"dnsBackendApiToken"`
	WebhookSecret      string `json:"webhookSecret"`
}

// Document is the single JSON document the Config Store reads and
// writes as a whole.
type Document struct {
	OwnerID          string              `json:"ownerId"`
	InventoryTailnet string              `json:"inventoryTailnet"`
	WebhookURL       string              `json:"webhookUrl"`
	SyncIntervalSec  int                 `json:"syncIntervalSec"`
	NamedCIDRLists   []NamedCIDRList     `json:"namedCidrLists"`
	GenerationTasks  []GenerationTaskDoc `json:"generationTasks"`
	Credentials      Credentials         `json:"credentials"`
}

// CIDRListsByName compiles every named CIDR list in the document into a
// name-indexed map, for use by the generator/reconciler.
func (d *Document) CIDRListsByName() (map[string]*cidr.List, error) {
	out := make(map[string]*cidr.List, len(d.NamedCIDRLists))
	for i := range d.NamedCIDRLists {
		l, err := d.NamedCIDRLists[i].ToCIDRList()
		if err != nil {
			return nil, err
		}
		out[l.Name] = l
	}
	return out, nil
}

// Tasks compiles every generation task document into a runtime
// GenerationTask.
func (d *Document) Tasks() []*generator.GenerationTask {
	out := make([]*generator.GenerationTask, len(d.GenerationTasks))
	for i := range d.GenerationTasks {
		out[i] = d.GenerationTasks[i].ToGenerationTask()
	}
	return out
}
