// Package merge combines two expanded CapabilityStatements into one.
//
// The merge is structural: rest groups are matched by mode, resources by
// type, repeatable elements by their natural key. Conflicting entries
// are only replaced when the incoming declaration carries a strictly
// stronger conformance expectation; ties keep the existing value.
package merge

import (
	"reflect"

	"github.com/charmbracelet/log"

	"github.com/Gefyra/capabilityStatement-expander/pkg/expectation"
	"github.com/Gefyra/capabilityStatement-expander/pkg/pool"
)

// keyedFields maps repeatable CapabilityStatement elements to the field
// that identifies an entry.
var keyedFields = map[string]string{
	"searchParam":       "name",
	"interaction":       "code",
	"operation":         "name",
	"extension":         "url",
	"modifierExtension": "url",
}

// Engine merges CapabilityStatement bodies.
type Engine struct {
	log *log.Logger
}

// New creates a merge Engine.
func New(logger *log.Logger) *Engine {
	return &Engine{log: logger.WithPrefix("merge")}
}

// Merge merges source into target, mutating target in place. Source is
// never modified; everything taken from it is deep-copied.
func (e *Engine) Merge(target, source map[string]any) {
	e.mergeRest(target, source)
	e.mergeGroups(target, source, "messaging", func(a, b map[string]any) bool {
		return reflect.DeepEqual(a["endpoint"], b["endpoint"])
	})
	e.mergeGroups(target, source, "document", func(a, b map[string]any) bool {
		return a["mode"] == b["mode"] && a["profile"] == b["profile"]
	})
	e.mergeRemainder(target, source, map[string]bool{
		"rest": true, "messaging": true, "document": true,
		// Identity and link fields are handled by the expander itself.
		"resourceType": true, "id": true, "url": true, "name": true,
		"title": true, "version": true,
		"imports": true, "_imports": true,
		"instantiates": true, "_instantiates": true,
	})
}

// mergeRest merges the rest groups, matching on mode (server/client).
func (e *Engine) mergeRest(target, source map[string]any) {
	srcGroups, ok := source["rest"].([]any)
	if !ok {
		return
	}

	tgtGroups, _ := target["rest"].([]any)
	for _, sg := range srcGroups {
		srcGroup, ok := sg.(map[string]any)
		if !ok {
			continue
		}
		var tgtGroup map[string]any
		for _, tg := range tgtGroups {
			if g, ok := tg.(map[string]any); ok && g["mode"] == srcGroup["mode"] {
				tgtGroup = g
				break
			}
		}
		if tgtGroup == nil {
			tgtGroups = append(tgtGroups, pool.CopyMap(srcGroup))
			e.log.Debug("appended rest group", "mode", srcGroup["mode"])
			continue
		}
		e.mergeRestGroup(tgtGroup, srcGroup)
	}
	target["rest"] = tgtGroups
}

// mergeRestGroup merges one matched rest group, pairing resources by type.
func (e *Engine) mergeRestGroup(target, source map[string]any) {
	if srcResources, ok := source["resource"].([]any); ok {
		tgtResources, _ := target["resource"].([]any)
		for _, sr := range srcResources {
			srcRes, ok := sr.(map[string]any)
			if !ok {
				continue
			}
			var tgtRes map[string]any
			for _, tr := range tgtResources {
				if r, ok := tr.(map[string]any); ok && r["type"] == srcRes["type"] {
					tgtRes = r
					break
				}
			}
			if tgtRes == nil {
				tgtResources = append(tgtResources, pool.CopyValue(sr))
				e.log.Debug("appended resource", "type", srcRes["type"])
				continue
			}
			e.mergeResource(tgtRes, srcRes)
		}
		target["resource"] = tgtResources
	}

	// searchParam exists at the group level too (cross-resource search
	// parameters), keyed by name like the per-resource list.
	for field, key := range keyedFields {
		e.mergeKeyedList(target, source, field, key)
	}
	e.mergeRemainder(target, source, map[string]bool{
		"mode": true, "resource": true,
		"searchParam": true, "interaction": true, "operation": true,
		"extension": true, "modifierExtension": true,
	})
}

// mergeResource merges one matched rest resource entry.
func (e *Engine) mergeResource(target, source map[string]any) {
	e.mergeSupportedProfiles(target, source)
	for field, key := range keyedFields {
		e.mergeKeyedList(target, source, field, key)
	}
	e.mergeRemainder(target, source, map[string]bool{
		"type": true, "supportedProfile": true, "_supportedProfile": true,
		"searchParam": true, "interaction": true, "operation": true,
		"extension": true, "modifierExtension": true,
	})
}

// mergeSupportedProfiles merges the supportedProfile array together with
// its parallel _supportedProfile metadata array. A new profile gains a
// matching metadata slot; an existing profile's slot is overwritten only
// when the incoming expectation is strictly stronger. The side list is
// padded to the primary list's length afterwards so the arrays stay
// aligned.
func (e *Engine) mergeSupportedProfiles(target, source map[string]any) {
	srcProfiles := stringEntries(source["supportedProfile"])
	if len(srcProfiles) == 0 {
		return
	}
	srcMeta, _ := source["_supportedProfile"].([]any)

	tgtProfiles, _ := target["supportedProfile"].([]any)
	tgtMeta, hasTgtMeta := target["_supportedProfile"].([]any)
	trackMeta := hasTgtMeta || srcMeta != nil

	for i, entry := range srcProfiles {
		profile, ok := entry.(string)
		if !ok {
			continue
		}
		var srcSlot any
		if i < len(srcMeta) {
			srcSlot = srcMeta[i]
		}

		idx := -1
		for j, existing := range tgtProfiles {
			if s, ok := existing.(string); ok && s == profile {
				idx = j
				break
			}
		}
		if idx < 0 {
			tgtProfiles = append(tgtProfiles, profile)
			if trackMeta {
				tgtMeta = padTo(tgtMeta, len(tgtProfiles)-1)
				tgtMeta = append(tgtMeta, pool.CopyValue(srcSlot))
			}
			continue
		}
		if trackMeta && expectation.Stronger(slotLevel(srcSlot), slotLevelAt(tgtMeta, idx)) {
			tgtMeta = padTo(tgtMeta, idx+1)
			tgtMeta[idx] = pool.CopyValue(srcSlot)
			e.log.Debug("upgraded profile expectation", "profile", profile, "level", slotLevel(srcSlot))
		}
	}

	target["supportedProfile"] = tgtProfiles
	if trackMeta {
		tgtMeta = padTo(tgtMeta, len(tgtProfiles))
		target["_supportedProfile"] = tgtMeta[:len(tgtProfiles)]
	}
}

// mergeKeyedList merges a repeatable field whose entries carry a natural
// key. Unknown keys append; known keys are replaced only on strictly
// stronger expectation.
func (e *Engine) mergeKeyedList(target, source map[string]any, field, key string) {
	srcList, ok := source[field].([]any)
	if !ok {
		return
	}
	tgtList, _ := target[field].([]any)

	for _, se := range srcList {
		srcElem, ok := se.(map[string]any)
		if !ok {
			continue
		}
		srcKey, _ := srcElem[key].(string)
		if srcKey == "" {
			// Entries without a key cannot be deduplicated; append if
			// not present verbatim.
			if !containsEqual(tgtList, se) {
				tgtList = append(tgtList, pool.CopyValue(se))
			}
			continue
		}

		idx := -1
		for j, te := range tgtList {
			if elem, ok := te.(map[string]any); ok {
				if k, _ := elem[key].(string); k == srcKey {
					idx = j
					break
				}
			}
		}
		if idx < 0 {
			tgtList = append(tgtList, pool.CopyValue(se))
			continue
		}
		tgtElem := tgtList[idx].(map[string]any)
		if expectation.Stronger(expectation.FromElement(srcElem), expectation.FromElement(tgtElem)) {
			tgtList[idx] = pool.CopyValue(se)
			e.log.Debug("upgraded keyed entry", "field", field, "key", srcKey)
		}
	}
	if tgtList != nil {
		target[field] = tgtList
	}
}

// mergeGroups merges a top-level group list (messaging, document) using
// a caller-supplied matcher; matched groups merge keyed lists and
// remainder fields, unmatched groups append wholesale.
func (e *Engine) mergeGroups(target, source map[string]any, field string, same func(a, b map[string]any) bool) {
	srcGroups, ok := source[field].([]any)
	if !ok {
		return
	}
	tgtGroups, _ := target[field].([]any)
	for _, sg := range srcGroups {
		srcGroup, ok := sg.(map[string]any)
		if !ok {
			continue
		}
		var tgtGroup map[string]any
		for _, tg := range tgtGroups {
			if g, ok := tg.(map[string]any); ok && same(g, srcGroup) {
				tgtGroup = g
				break
			}
		}
		if tgtGroup == nil {
			tgtGroups = append(tgtGroups, pool.CopyMap(srcGroup))
			continue
		}
		e.mergeKeyedList(tgtGroup, srcGroup, "supportedMessage", "definition")
		e.mergeKeyedList(tgtGroup, srcGroup, "extension", "url")
		e.mergeRemainder(tgtGroup, srcGroup, map[string]bool{
			"supportedMessage": true, "extension": true,
		})
	}
	target[field] = tgtGroups
}

// mergeRemainder applies the default rules to fields not handled by a
// dedicated merger: scalars and objects are first-write-wins, plain
// lists append values not already present by exact equality.
func (e *Engine) mergeRemainder(target, source map[string]any, handled map[string]bool) {
	for field, srcVal := range source {
		if handled[field] {
			continue
		}
		tgtVal, present := target[field]
		if !present {
			target[field] = pool.CopyValue(srcVal)
			continue
		}
		srcList, srcIsList := srcVal.([]any)
		tgtList, tgtIsList := tgtVal.([]any)
		if !srcIsList || !tgtIsList {
			continue // first write wins
		}
		for _, item := range srcList {
			if !containsEqual(tgtList, item) {
				tgtList = append(tgtList, pool.CopyValue(item))
			}
		}
		target[field] = tgtList
	}
}

func containsEqual(list []any, item any) bool {
	for _, existing := range list {
		if reflect.DeepEqual(existing, item) {
			return true
		}
	}
	return false
}

func stringEntries(v any) []any {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	return list
}

func slotLevel(slot any) expectation.Level {
	elem, ok := slot.(map[string]any)
	if !ok {
		return expectation.Unset
	}
	return expectation.FromElement(elem)
}

func slotLevelAt(meta []any, idx int) expectation.Level {
	if idx >= len(meta) {
		return expectation.Unset
	}
	return slotLevel(meta[idx])
}

func padTo(list []any, n int) []any {
	for len(list) < n {
		list = append(list, nil)
	}
	return list
}
