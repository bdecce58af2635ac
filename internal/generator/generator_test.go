package generator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshdns-controller/meshdns-controller/internal/cidr"
	"github.com/meshdns-controller/meshdns-controller/internal/machine"
	"github.com/meshdns-controller/meshdns-controller/internal/selector"
)

func exactSelector(t *testing.T, field, pattern string) *selector.Selector {
	t.Helper()
	s := &selector.Selector{Field: field, Pattern: pattern}
	s.Compile()
	return s
}

// S1: one machine, one A-record task, no expansion.
func TestGenerate_SingleMachineSingleRecord(t *testing.T) {
	task := &GenerationTask{
		ID:              "t1",
		Enabled:         true,
		MachineSelector: exactSelector(t, "tag", "tag:web"),
		RecordTemplates: []*RecordTemplate{
			{RecordType: RecordTypeA, Name: "{{machineName}}.example.com", Value: "{{tailscaleIP}}"},
		},
	}
	task.RecordTemplates[0].Compile()

	m := &machine.Machine{
		Name: "web01.tailnet.ts.net",
		Tags: []string{"tag:web"},
		ClientConnectivity: machine.ClientConnectivity{
			Endpoints: []string{"192.168.1.10:41641"},
		},
	}

	recs := Generate(task, []*machine.Machine{m}, "owner1", nil)
	require.Len(t, recs, 1)
	assert.Equal(t, "web01.example.com", recs[0].Name)
	assert.Equal(t, "192.168.1.10", recs[0].Content)
	assert.Equal(t, DefaultTTL, recs[0].TTL)
	assert.Equal(t, "cf-ts-dns:owner1:web01", recs[0].Comment)
}

func TestGenerate_DisabledTaskYieldsNothing(t *testing.T) {
	task := &GenerationTask{
		Enabled:         false,
		MachineSelector: exactSelector(t, "tag", "tag:web"),
		RecordTemplates: []*RecordTemplate{{RecordType: RecordTypeA, Name: "x", Value: "1.2.3.4"}},
	}
	task.RecordTemplates[0].Compile()
	m := &machine.Machine{Tags: []string{"tag:web"}}
	assert.Nil(t, Generate(task, []*machine.Machine{m}, "owner1", nil))
}

func TestGenerate_NonMatchingMachineSkipped(t *testing.T) {
	task := &GenerationTask{
		Enabled:         true,
		MachineSelector: exactSelector(t, "tag", "tag:web"),
		RecordTemplates: []*RecordTemplate{{RecordType: RecordTypeA, Name: "x", Value: "1.2.3.4"}},
	}
	task.RecordTemplates[0].Compile()
	m := &machine.Machine{Tags: []string{"tag:db"}}
	assert.Nil(t, Generate(task, []*machine.Machine{m}, "owner1", nil))
}

// Associated SRV record: target defaults to the primary record's evaluated name.
func TestGenerate_AssociatedSRVDefaultTarget(t *testing.T) {
	task := &GenerationTask{
		Enabled:         true,
		MachineSelector: exactSelector(t, "tag", "tag:web"),
		RecordTemplates: []*RecordTemplate{
			{
				RecordType: RecordTypeA,
				Name:       "{{machineName}}.example.com",
				Value:      "{{tailscaleIP}}",
				SRVPrefix:  "_https._tcp",
			},
		},
	}
	task.RecordTemplates[0].Compile()

	m := &machine.Machine{
		Name:               "web01",
		Tags:               []string{"tag:web"},
		ClientConnectivity: machine.ClientConnectivity{Endpoints: []string{"10.0.0.5:1"}},
	}

	recs := Generate(task, []*machine.Machine{m}, "owner1", nil)
	require.Len(t, recs, 2)

	var a, srv *DesiredRecord
	for _, r := range recs {
		if r.Type == RecordTypeA {
			a = r
		}
		if r.Type == RecordTypeSRV {
			srv = r
		}
	}
	require.NotNil(t, a)
	require.NotNil(t, srv)
	assert.Equal(t, "_https._tcp.web01.example.com", srv.Name)
	assert.Equal(t, a.Name, srv.Content)
	assert.False(t, srv.Proxied)
	assert.Equal(t, DefaultPriority, srv.Priority)
	assert.Equal(t, DefaultWeight, srv.Weight)
	assert.Equal(t, DefaultPort, srv.Port)
}

// Associated SRV record with an explicit target template overrides the default.
func TestGenerate_AssociatedSRVExplicitTarget(t *testing.T) {
	task := &GenerationTask{
		Enabled:         true,
		MachineSelector: exactSelector(t, "tag", "tag:web"),
		RecordTemplates: []*RecordTemplate{
			{
				RecordType: RecordTypeA,
				Name:       "{{machineName}}.example.com",
				Value:      "{{tailscaleIP}}",
				SRVPrefix:  "_https._tcp",
				SRVTarget:  "target-{{machineName}}.example.com",
			},
		},
	}
	task.RecordTemplates[0].Compile()

	m := &machine.Machine{
		Name:               "web01",
		Tags:               []string{"tag:web"},
		ClientConnectivity: machine.ClientConnectivity{Endpoints: []string{"10.0.0.5:1"}},
	}

	recs := Generate(task, []*machine.Machine{m}, "owner1", nil)
	require.Len(t, recs, 2)
	for _, r := range recs {
		if r.Type == RecordTypeSRV {
			assert.Equal(t, "target-web01.example.com", r.Content)
		}
	}
}

// S6-style scenario: CIDR-driven value template expands per matched IP,
// each expansion producing its own desired record with distinct key.
func TestGenerate_CIDRExpansionProducesMultipleRecords(t *testing.T) {
	lan := &cidr.List{Name: "lan", CIDRs: []string{"10.0.0.0/8"}, Mode: cidr.ModeMultiple}
	require.NoError(t, lan.Compile())

	task := &GenerationTask{
		Enabled:         true,
		MachineSelector: exactSelector(t, "tag", "tag:multi"),
		RecordTemplates: []*RecordTemplate{
			{RecordType: RecordTypeA, Name: "{{machineName}}.example.com", Value: "{{cidr.lan}}"},
		},
	}
	task.RecordTemplates[0].Compile()

	m := &machine.Machine{
		Name: "multi01",
		Tags: []string{"tag:multi"},
		ClientConnectivity: machine.ClientConnectivity{
			Endpoints: []string{"10.0.0.1:1", "10.0.0.2:1"},
		},
	}

	recs := Generate(task, []*machine.Machine{m}, "owner1", map[string]*cidr.List{"lan": lan})
	require.Len(t, recs, 2)
	assert.Equal(t, "10.0.0.1", recs[0].Content)
	assert.Equal(t, "10.0.0.2", recs[1].Content)
	assert.NotEqual(t, recs[0].Key(), recs[1].Key())
}

func TestDesiredRecord_Key(t *testing.T) {
	a := &DesiredRecord{Type: RecordTypeA, Name: "x.example.com", Content: "1.2.3.4"}
	assert.Equal(t, "A:x.example.com:1.2.3.4", a.Key())

	srv := &DesiredRecord{Type: RecordTypeSRV, Name: "_svc._tcp.x", Content: "x.example.com", Priority: 10, Weight: 5, Port: 443}
	assert.Equal(t, "SRV:_svc._tcp.x:10:5:443:x.example.com", srv.Key())
}

// Pins §9's open question: two machine names sharing a 100-char prefix
// produce identical (colliding) truncated ownership comments. This is
// documented, pinned behavior, not a bug to fix here.
func TestOwnershipComment_TruncatesAt100AndCanCollide(t *testing.T) {
	longBase := strings.Repeat("a", 120)
	c1 := OwnershipComment("owner1", longBase+"-one")
	c2 := OwnershipComment("owner1", longBase+"-two")
	assert.Len(t, c1, ownershipCommentMaxLen)
	assert.Equal(t, c1, c2)
}

func TestOwnershipComment_ShortNameNotTruncated(t *testing.T) {
	c := OwnershipComment("owner1", "web01")
	assert.Equal(t, "cf-ts-dns:owner1:web01", c)
	assert.True(t, strings.HasPrefix(c, OwnershipPrefix("owner1")))
}
