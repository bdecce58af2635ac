// Package generator projects machines into desired DNS records (spec
// §4.6's Record Generator + associated-SRV rule, and §3's RecordTemplate/
// GenerationTask/DesiredRecord types).
//
// The tagged-sum-type DesiredRecord (below) replaces the structural/duck
// typing the original system carried (loose A-vs-SRV objects); the
// record-key function dispatches on RecordType, per Design Notes.
package generator

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/meshdns-controller/meshdns-controller/internal/cidr"
	"github.com/meshdns-controller/meshdns-controller/internal/machine"
	"github.com/meshdns-controller/meshdns-controller/internal/selector"
	"github.com/meshdns-controller/meshdns-controller/internal/template"
)

const (
	RecordTypeA     = "A"
	RecordTypeAAAA  = "AAAA"
	RecordTypeCNAME = "CNAME"
	RecordTypeSRV   = "SRV"
	RecordTypeTXT   = "TXT"

	DefaultTTL      = 300
	DefaultPriority = 10
	DefaultWeight   = 10
	DefaultPort     = 80

	// ownershipCommentMaxLen mirrors Cloudflare's free-tier DNS record
	// comment limit (provider/cloudflare.go: freeZoneMaxCommentLength).
	// Preserved as a fixed invariant per spec §4.6/§9: truncation can
	// collide for two machine names sharing a 100-char prefix and is
	// intentionally not made configurable.
	ownershipCommentMaxLen = 100
)

// RecordTemplate is spec §3's RecordTemplate, pre-parsed.
type RecordTemplate struct {
	RecordType string
	Name       string
	Value      string
	TTL        int
	Proxied    bool

	Priority int
	Weight   int
	Port     int

	SRVPrefix string
	SRVTarget string

	nameTemplate  *template.Template
	valueTemplate *template.Template
	srvTemplate   *template.Template
}

// Compile parses the template's Name/Value/SRVTarget strings and fills in
// RecordTemplate defaults (spec §3: ttl default 300; SRV priority/weight/port
// default 10/10/80).
func (rt *RecordTemplate) Compile() {
	if rt.TTL == 0 {
		rt.TTL = DefaultTTL
	}
	// SRV defaults apply whenever the template emits an SRV record
	// itself, or an associated SRV record via SRVPrefix (spec §4.6).
	if rt.RecordType == RecordTypeSRV || rt.SRVPrefix != "" {
		if rt.Priority == 0 {
			rt.Priority = DefaultPriority
		}
		if rt.Weight == 0 {
			rt.Weight = DefaultWeight
		}
		if rt.Port == 0 {
			rt.Port = DefaultPort
		}
	}
	rt.nameTemplate = template.Parse(rt.Name)
	rt.valueTemplate = template.Parse(rt.Value)
	if rt.SRVTarget != "" {
		rt.srvTemplate = template.Parse(rt.SRVTarget)
	}
}

// GenerationTask is spec §3's GenerationTask.
type GenerationTask struct {
	ID              string
	Name            string
	Description     string
	Enabled         bool
	MachineSelector *selector.Selector
	RecordTemplates []*RecordTemplate
}

// DesiredRecord is the tagged-sum-type record the reconciler diffs
// against the backend's owned records (spec §3).
type DesiredRecord struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"` // target/value for A/AAAA/CNAME/TXT, or SRV's target
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`

	// SRV-only fields.
	Priority int `json:"priority,omitempty"`
	Weight   int `json:"weight,omitempty"`
	Port     int `json:"port,omitempty"`

	Comment string `json:"comment"`
}

// Key computes spec §4.7's record key: "type:name:content" for
// A/AAAA/CNAME/TXT, "type:name:priority:weight:port:target" for SRV.
func (r *DesiredRecord) Key() string {
	if r.Type == RecordTypeSRV {
		return fmt.Sprintf("%s:%s:%d:%d:%d:%s", r.Type, r.Name, r.Priority, r.Weight, r.Port, r.Content)
	}
	return fmt.Sprintf("%s:%s:%s", r.Type, r.Name, r.Content)
}

// OwnershipComment builds spec §4.6's ownership comment, clipped to a
// fixed 100-character maximum by trimming the trailing machine name.
func OwnershipComment(ownerID, machineName string) string {
	comment := fmt.Sprintf("cf-ts-dns:%s:%s", ownerID, machineName)
	if len(comment) <= ownershipCommentMaxLen {
		return comment
	}
	return comment[:ownershipCommentMaxLen]
}

// OwnershipPrefix is the prefix OwnershipComment always starts with for a
// given owner, the sole criterion the reconciler uses to decide whether a
// backend record belongs to this controller.
func OwnershipPrefix(ownerID string) string {
	return fmt.Sprintf("cf-ts-dns:%s:", ownerID)
}

// machineContext pairs a matched machine with its selector captures.
type machineContext struct {
	m     *machine.Machine
	caps  selector.Captures
	ips   []string // extracted IPv4 endpoint addresses, in machine order
	first string   // first extracted IPv4 endpoint address, "" if none
}

// Generate runs task's selector over machines and projects every match
// into DesiredRecords via task's templates, including associated SRV
// records (spec §4.6). Template evaluation errors are per-record: a
// record that fails to evaluate is skipped and logged, never aborting
// the task (spec §4.7 failure semantics).
func Generate(task *GenerationTask, machines []*machine.Machine, ownerID string, namedLists map[string]*cidr.List) []*DesiredRecord {
	if !task.Enabled {
		return nil
	}

	var out []*DesiredRecord
	for _, m := range machines {
		ok, caps := task.MachineSelector.Match(m)
		if !ok {
			continue
		}
		mc := newMachineContext(m, caps)

		for _, rt := range task.RecordTemplates {
			out = append(out, generateForTemplate(rt, mc, ownerID, namedLists)...)
		}
	}
	return out
}

func newMachineContext(m *machine.Machine, caps selector.Captures) *machineContext {
	ips := cidr.ExtractEndpointIPs(m.ClientConnectivity.Endpoints, func(e string) {
		log.WithField("machine", m.MachineName()).WithField("endpoint", e).
			Debug("dropping non-IPv4 endpoint")
	})
	mc := &machineContext{m: m, caps: caps}
	for _, ip := range ips {
		mc.ips = append(mc.ips, ip.String())
	}
	if len(mc.ips) > 0 {
		mc.first = mc.ips[0]
	}
	return mc
}

func templateContext(mc *machineContext, namedLists map[string]*cidr.List) *template.Context {
	return &template.Context{
		MachineName:  mc.m.MachineName(),
		TailscaleIP:  mc.first,
		Tags:         mc.m.Tags,
		Captures:     mc.caps,
		EndpointIPs:  mc.ips,
		NamedLists:   namedLists,
		RawEndpoints: mc.m.ClientConnectivity.Endpoints,
	}
}

func generateForTemplate(rt *RecordTemplate, mc *machineContext, ownerID string, namedLists map[string]*cidr.List) []*DesiredRecord {
	ctx := templateContext(mc, namedLists)

	names := rt.nameTemplate.Eval(ctx)
	values := rt.valueTemplate.Eval(ctx)
	if len(names) == 0 || len(values) == 0 {
		return nil
	}

	comment := OwnershipComment(ownerID, mc.m.MachineName())

	var out []*DesiredRecord
	for _, name := range names {
		for _, value := range values {
			rec := buildRecord(rt, name, value, comment)
			out = append(out, rec)

			if rt.SRVPrefix != "" && rt.RecordType != RecordTypeSRV {
				if srv := buildAssociatedSRV(rt, mc, namedLists, name, comment); srv != nil {
					out = append(out, srv)
				}
			}
		}
	}
	return out
}

func buildRecord(rt *RecordTemplate, name, value, comment string) *DesiredRecord {
	rec := &DesiredRecord{
		Type:    rt.RecordType,
		Name:    name,
		Content: value,
		TTL:     rt.TTL,
		Comment: comment,
	}
	switch rt.RecordType {
	case RecordTypeA, RecordTypeAAAA, RecordTypeCNAME:
		rec.Proxied = rt.Proxied
	case RecordTypeSRV:
		rec.Priority = rt.Priority
		rec.Weight = rt.Weight
		rec.Port = rt.Port
	}
	return rec
}

// buildAssociatedSRV implements spec §4.6's associated-SRV rule: name is
// "<srvPrefix>.<resolved name>", target is the evaluated srvTarget or,
// absent that, the primary record's resolved name. Always non-proxied.
func buildAssociatedSRV(rt *RecordTemplate, mc *machineContext, namedLists map[string]*cidr.List, primaryName, comment string) *DesiredRecord {
	target := primaryName
	if rt.srvTemplate != nil {
		ctx := templateContext(mc, namedLists)
		targets := rt.srvTemplate.Eval(ctx)
		if len(targets) == 0 {
			return nil
		}
		target = targets[0]
	}

	return &DesiredRecord{
		Type:     RecordTypeSRV,
		Name:     fmt.Sprintf("%s.%s", rt.SRVPrefix, primaryName),
		Content:  target,
		TTL:      rt.TTL,
		Proxied:  false,
		Priority: rt.Priority,
		Weight:   rt.Weight,
		Port:     rt.Port,
		Comment:  comment,
	}
}
