// Package plm implements the client for the remote PLM service: session
// management, a verb-generic HTTP wrapper, response normalization, and
// the named domain operations described in spec.md §4.1-4.3.
package plm

import "time"

// Item is the normalized item record (spec.md §3). Fields come from the
// PLM's "responseview=full" payload after casing normalization.
type Item struct {
	ID           string `json:"id"`
	Number       string `json:"number"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Revision     string `json:"revision"`
	CategoryName string `json:"category_name"`
	CategoryID   string `json:"category_id"`
	LifecycleName string `json:"lifecycle_name"`
	LifecycleID   string `json:"lifecycle_id"`
	IsAssembly    bool   `json:"is_assembly"`
	AssemblyType  string `json:"assembly_type"`

	// Raw preserves the normalized-but-unprojected payload for callers
	// needing uncommon fields the trimmed struct above doesn't carry.
	Raw map[string]any `json:"-"`
}

// BOMLine is one parent->child relationship (spec.md §3).
type BOMLine struct {
	LineID        string         `json:"line_id"`
	ChildItemID   string         `json:"child_item_id"`
	ChildNumber   string         `json:"child_number"`
	Quantity      int            `json:"quantity"`
	Level         int            `json:"level"`
	LineNumber    int            `json:"line_number,omitempty"`
	Revision      string         `json:"revision,omitempty"`
	LifecycleName string         `json:"lifecycle_name,omitempty"`
	Attributes    map[string]any `json:"attributes,omitempty"`
}

// Category is a PLM category (name + opaque id).
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LifecyclePhase is a PLM lifecycle phase (name + opaque id).
type LifecyclePhase struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AttributeSetting describes one configurable item attribute.
type AttributeSetting struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ItemCreate is the payload for creating or updating an item.
type ItemCreate struct {
	Number      string `json:"number"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	CategoryID  string `json:"categoryId,omitempty"`
}

// ExportRun tracks the lifecycle of a bulk-export run (spec.md §4.9 Path B).
type ExportRun struct {
	DefinitionID string
	RunID        string
	Status       string // QUEUED, RUNNING, COMPLETE, FAILED, ABORTED
	FileID       string
	StartedAt    time.Time
}

// ExportRunTerminal reports whether status is one of the three terminal
// states the poll loop stops on.
func ExportRunTerminal(status string) bool {
	switch status {
	case "COMPLETE", "FAILED", "ABORTED":
		return true
	default:
		return false
	}
}
