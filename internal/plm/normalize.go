package plm

import "strings"

// normalizeFields maps a decoded JSON object's keys to a single
// lowercase convention (spec.md §4, §9 "Casing drift"). The PLM returns
// either camelCase/lowercase or PascalCase inconsistently between
// endpoints and even between pages of the same endpoint; rather than
// scatter `v["lifecyclePhase"]` / `v["LifecyclePhase"]` reads through
// business logic, every response passes through here once, at the HTTP
// boundary, so multi-word keys collapse onto the same all-lowercase form
// regardless of which casing the server used.
func normalizeFields(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[strings.ToLower(k)] = normalizeFields(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeFields(e)
		}
		return out
	default:
		return v
	}
}

// results extracts a collection envelope that may arrive as "results" or
// "Results" (already normalized to "results" by normalizeFields, but the
// envelope key itself can also be "items" on some endpoints).
func results(v map[string]any) []any {
	for _, key := range []string{"results", "items"} {
		if raw, ok := v[key]; ok {
			if arr, ok := raw.([]any); ok {
				return arr
			}
		}
	}
	return nil
}

func str(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func strNested(m map[string]any, key, nestedKey string) string {
	if v, ok := m[key]; ok {
		if nested, ok := v.(map[string]any); ok {
			return str(nested, nestedKey)
		}
	}
	return ""
}

func boolVal(m map[string]any, key string) bool {
	if v, ok := m[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}

func intVal(m map[string]any, key string) int {
	if v, ok := m[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return 0
}

// itemFromNormalized projects a normalized item payload into Item.
func itemFromNormalized(m map[string]any) Item {
	return Item{
		ID:            str(m, "id"),
		Number:        str(m, "number"),
		Name:          str(m, "name"),
		Description:   str(m, "description"),
		Revision:      str(m, "revision"),
		CategoryName:  strNested(m, "category", "name"),
		CategoryID:    strNested(m, "category", "id"),
		LifecycleName: strNested(m, "lifecyclephase", "name"),
		LifecycleID:   strNested(m, "lifecyclephase", "id"),
		IsAssembly:    boolVal(m, "isassembly"),
		AssemblyType:  str(m, "assemblytype"),
		Raw:           m,
	}
}

// bomLineFromNormalized projects a normalized BOM-line payload into BOMLine.
func bomLineFromNormalized(m map[string]any) BOMLine {
	line := BOMLine{
		LineID:        str(m, "guid"),
		ChildItemID:   strNested(m, "item", "id"),
		ChildNumber:   strNested(m, "item", "number"),
		Quantity:      intVal(m, "quantity"),
		Level:         intVal(m, "level"),
		LineNumber:    intVal(m, "linenumber"),
		Revision:      strNested(m, "item", "revision"),
		LifecycleName: strNested(m, "item", "lifecyclephase"),
	}
	if line.LineID == "" {
		line.LineID = str(m, "id")
	}
	if line.ChildItemID == "" {
		line.ChildItemID = str(m, "itemid")
	}
	if attrs, ok := m["additionalattributes"].(map[string]any); ok {
		line.Attributes = attrs
	}
	return line
}

// searchQuery trims and truncates a user search string to the 200-char
// limit the PLM search endpoint enforces (spec.md §4.3).
func searchQuery(q string) string {
	q = strings.TrimSpace(q)
	if len(q) > 200 {
		q = q[:200]
	}
	return q
}
