package plm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/wallcrawler78/arena-sheets-sync/internal/tabularstore"
)

// hostConfigSheetName is the dedicated sheet the host populates with its
// configuration before the engine's first run, one (key, json value) row
// per setting.
const hostConfigSheetName = "HostConfig"

// HostConfig is the typed home for the host-configuration keys named in
// spec.md §6 as external interfaces the core consumes read-only:
// type_system_config, category_colors, position_attribute_config,
// bom_levels, item_columns, and favorites_*. It is decoded once at
// startup (LoadHostConfig) instead of read ad hoc, and its two
// operationally meaningful fields -- PositionAttributeID and the
// bom_levels pair -- are threaded explicitly into the Push Pipeline and
// Consolidation respectively. The remaining fields have no consuming
// operation in this engine (they describe host-side UI rendering, out
// of scope per spec.md's Non-goals) and are carried on HostConfig purely
// as read-only pass-through for a future host adapter.
type HostConfig struct {
	PositionAttributeID string         // position_attribute_config
	LevelMap            map[string]int // bom_levels
	LeafLevel           int            // bom_levels

	TypeSystem     json.RawMessage   // type_system_config, opaque to the sync engine
	CategoryColors map[string]string // category_colors
	ItemColumns    []string          // item_columns
	Favorites      map[string][]string
}

// LoadHostConfig reads the HostConfig sheet, creating it empty if the
// host hasn't populated it yet so a fresh deployment still starts.
func LoadHostConfig(ctx context.Context, store tabularstore.Store) (HostConfig, error) {
	var cfg HostConfig

	sheet, err := store.Sheet(ctx, hostConfigSheetName)
	if err != nil {
		if !errors.Is(err, tabularstore.ErrSheetNotFound) {
			return cfg, fmt.Errorf("open host config sheet: %w", err)
		}
		if sheet, err = store.CreateSheet(ctx, hostConfigSheetName); err != nil {
			return cfg, fmt.Errorf("create host config sheet: %w", err)
		}
		if err := sheet.SetRange(ctx, 1, 1, tabularstore.Range{{"key", "value"}}); err != nil {
			return cfg, fmt.Errorf("initialize host config sheet: %w", err)
		}
	}

	rowCount, err := sheet.RowCount(ctx)
	if err != nil {
		return cfg, fmt.Errorf("read host config sheet: %w", err)
	}
	if rowCount <= 1 {
		return cfg, nil
	}

	rows, err := sheet.GetRange(ctx, 2, 1, rowCount-1, 2)
	if err != nil {
		return cfg, fmt.Errorf("read host config rows: %w", err)
	}

	for _, row := range rows {
		key := tabularstore.ToString(row[0])
		raw := tabularstore.ToString(row[1])
		if key == "" || raw == "" {
			continue
		}
		applyHostConfigRow(&cfg, key, raw)
	}
	return cfg, nil
}

func applyHostConfigRow(cfg *HostConfig, key, raw string) {
	switch {
	case key == "position_attribute_config":
		cfg.PositionAttributeID = raw
	case key == "bom_levels":
		var levels struct {
			LevelMap  map[string]int `json:"level_map"`
			LeafLevel int            `json:"leaf_level"`
		}
		if err := json.Unmarshal([]byte(raw), &levels); err == nil {
			cfg.LevelMap = levels.LevelMap
			cfg.LeafLevel = levels.LeafLevel
		}
	case key == "type_system_config":
		cfg.TypeSystem = json.RawMessage(raw)
	case key == "category_colors":
		_ = json.Unmarshal([]byte(raw), &cfg.CategoryColors)
	case key == "item_columns":
		_ = json.Unmarshal([]byte(raw), &cfg.ItemColumns)
	case strings.HasPrefix(key, "favorites_"):
		var fav []string
		if err := json.Unmarshal([]byte(raw), &fav); err == nil {
			if cfg.Favorites == nil {
				cfg.Favorites = make(map[string][]string)
			}
			cfg.Favorites[strings.TrimPrefix(key, "favorites_")] = fav
		}
	}
}
