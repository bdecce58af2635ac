package configstore

import (
	"fmt"
	"strings"

	"github.com/meshdns-controller/meshdns-controller/internal/apperrors"
	"github.com/meshdns-controller/meshdns-controller/internal/cidr"
)

// Validate checks doc against the schema invariants spec §3/§4.1 define,
// returning an error for the first problem found: a field-path-qualified
// apperrors.ValidationError, or an apperrors.ConfigError for an enabled
// task that defines no record templates.
func Validate(doc *Document) error {
	if doc.OwnerID == "" {
		return apperrors.NewValidationError("ownerId", "must not be empty")
	}

	if err := validateUniqueListNames(doc.NamedCIDRLists); err != nil {
		return err
	}
	listNames := make(map[string]struct{}, len(doc.NamedCIDRLists))
	for i, l := range doc.NamedCIDRLists {
		field := fmt.Sprintf("namedCidrLists[%d]", i)
		if l.Name == "" {
			return apperrors.NewValidationError(field+".name", "must not be empty")
		}
		if len(l.CIDRs) == 0 {
			return apperrors.NewValidationError(field+".cidrs", "must contain at least one CIDR")
		}
		if l.Mode != "single" && l.Mode != "multiple" {
			return apperrors.NewValidationError(field+".mode", `must be "single" or "multiple"`)
		}
		compiled := &cidr.List{Name: l.Name, CIDRs: l.CIDRs}
		if err := compiled.Compile(); err != nil {
			return apperrors.NewValidationError(field+".cidrs", err.Error())
		}
		listNames[l.Name] = struct{}{}
	}

	if err := validateUniqueTaskIDs(doc.GenerationTasks); err != nil {
		return err
	}
	for i, task := range doc.GenerationTasks {
		field := fmt.Sprintf("generationTasks[%d]", i)
		if task.ID == "" {
			return apperrors.NewValidationError(field+".id", "must not be empty")
		}
		if task.MachineSelector.Field == "" {
			return apperrors.NewValidationError(field+".machineSelector.field", "must not be empty")
		}
		if task.Enabled && len(task.RecordTemplates) == 0 {
			return apperrors.NewConfigError(fmt.Sprintf("task %q is enabled but defines no record templates", task.ID))
		}
		for j, rt := range task.RecordTemplates {
			rtField := fmt.Sprintf("%s.recordTemplates[%d]", field, j)
			if err := validateRecordTemplate(rtField, &rt, listNames); err != nil {
				return err
			}
		}
	}

	return nil
}

func validateRecordTemplate(field string, rt *RecordTemplateDoc, listNames map[string]struct{}) error {
	switch rt.RecordType {
	case "A", "AAAA", "CNAME", "TXT", "SRV":
	default:
		return apperrors.NewValidationError(field+".recordType", "must be one of A, AAAA, CNAME, TXT, SRV")
	}
	if rt.Name == "" {
		return apperrors.NewValidationError(field+".name", "must not be empty")
	}
	if rt.Value == "" {
		return apperrors.NewValidationError(field+".value", "must not be empty")
	}
	return nil
}

func validateUniqueListNames(lists []NamedCIDRList) error {
	seen := make(map[string]struct{}, len(lists))
	for _, l := range lists {
		if _, ok := seen[l.Name]; ok {
			return apperrors.NewValidationError("namedCidrLists", fmt.Sprintf("duplicate name %q", l.Name))
		}
		seen[l.Name] = struct{}{}
	}
	return nil
}

func validateUniqueTaskIDs(tasks []GenerationTaskDoc) error {
	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if _, ok := seen[t.ID]; ok {
			return apperrors.NewValidationError("generationTasks", fmt.Sprintf("duplicate id %q", t.ID))
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}

// ListInUse reports whether any generation task's templates reference a
// cidr.<name> variable for listName, used as a delete guard so a CIDR
// list cannot be removed while a task still depends on it — including a
// currently-disabled task, since it can be re-enabled later.
func ListInUse(doc *Document, listName string) bool {
	token := "cidr." + listName
	for _, task := range doc.GenerationTasks {
		for _, rt := range task.RecordTemplates {
			if strings.Contains(rt.Name, token) || strings.Contains(rt.Value, token) || strings.Contains(rt.SRVTarget, token) {
				return true
			}
		}
	}
	return false
}
