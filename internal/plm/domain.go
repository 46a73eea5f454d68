package plm

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/wallcrawler78/arena-sheets-sync/internal/syncerr"
)

// API exposes the named domain operations of spec.md §4.3: the item, BOM
// and settings endpoints are each reached through a method here. The
// bulk-export endpoints are called by loader.go through the Client
// directly, with paths built there.
type API struct {
	client *Client
	cache  *ItemCache
}

// NewAPI builds a Domain API over client, write-through to cache.
func NewAPI(client *Client, cache *ItemCache) *API {
	return &API{client: client, cache: cache}
}

// SessionActive reports whether the underlying Session currently holds a
// live token, for the status endpoint (SPEC_FULL.md §3).
func (a *API) SessionActive() bool {
	return a.client.session.Active()
}

// CacheManifestConsistent reports whether the item cache's shard
// manifest still satisfies manifest.count == Σ|shard_i| (spec.md §4.4).
func (a *API) CacheManifestConsistent(ctx context.Context) (bool, error) {
	return a.cache.ManifestConsistent(ctx)
}

// LookupItem consults the item cache by item number without issuing a
// live request, the read path callers outside this package use to
// resolve rack sheet children into cache entries (e.g. before a sync).
func (a *API) LookupItem(number string) (CacheEntry, bool) {
	return a.cache.Lookup(number)
}

// GetItem fetches a single item by opaque id.
func (a *API) GetItem(ctx context.Context, opaqueID string) (Item, error) {
	if opaqueID == "" {
		return Item{}, syncerr.New(syncerr.KindValidation, "item id must not be empty")
	}
	q := url.Values{"responseview": {"full"}}
	resp, err := a.client.Get(ctx, "/items/"+opaqueID, q)
	if err != nil {
		return Item{}, err
	}
	return itemFromNormalized(resp), nil
}

// GetItemByNumber resolves an item through the cache (spec.md §4.4); on a
// cache miss it triggers exactly one refresh and retries once before
// reporting NotFound.
func (a *API) GetItemByNumber(ctx context.Context, number string) (Item, error) {
	if entry, ok := a.cache.Lookup(number); ok {
		return entry.toItem(), nil
	}
	if err := a.cache.Refresh(ctx, a); err != nil {
		return Item{}, err
	}
	if entry, ok := a.cache.Lookup(number); ok {
		return entry.toItem(), nil
	}
	return Item{}, syncerr.New(syncerr.KindNotFound, fmt.Sprintf("item %q not found", number))
}

// CreateItem creates a new item; the cache is write-through (insert).
func (a *API) CreateItem(ctx context.Context, rec ItemCreate) (Item, error) {
	body := map[string]any{
		"number":      rec.Number,
		"name":        rec.Name,
		"description": rec.Description,
	}
	if rec.CategoryID != "" {
		body["categoryId"] = rec.CategoryID
	}
	resp, err := a.client.PostIdempotent(ctx, "/items", body)
	if err != nil {
		return Item{}, err
	}
	item := itemFromNormalized(resp)
	a.cache.Add(item)
	return item, nil
}

// UpdateItem updates an existing item; the cache entry is evicted so the
// next lookup picks up the new values on refresh.
func (a *API) UpdateItem(ctx context.Context, opaqueID string, rec ItemCreate) (Item, error) {
	body := map[string]any{
		"number":      rec.Number,
		"name":        rec.Name,
		"description": rec.Description,
	}
	if rec.CategoryID != "" {
		body["categoryId"] = rec.CategoryID
	}
	resp, err := a.client.Put(ctx, "/items/"+opaqueID, body)
	if err != nil {
		return Item{}, err
	}
	item := itemFromNormalized(resp)
	a.cache.Evict(item.Number)
	return item, nil
}

// SearchItems looks up items by free-text query, trimmed/truncated to
// 200 chars and URL-encoded (spec.md §4.3).
func (a *API) SearchItems(ctx context.Context, query string, limit int) ([]Item, error) {
	q := url.Values{
		"searchQuery": {searchQuery(query)},
		"limit":       {strconv.Itoa(limit)},
	}
	resp, err := a.client.Get(ctx, "/items/searches", q)
	if err != nil {
		return nil, err
	}
	return itemsFromResults(resp), nil
}

// GetItems fetches one page of items, optionally filtered by category.
func (a *API) GetItems(ctx context.Context, limit, offset int, category string) ([]Item, error) {
	q := url.Values{
		"limit":        {strconv.Itoa(limit)},
		"offset":       {strconv.Itoa(offset)},
		"responseview": {"full"},
	}
	if category != "" {
		q.Set("category", category)
	}
	resp, err := a.client.Get(ctx, "/items", q)
	if err != nil {
		return nil, err
	}
	return itemsFromResults(resp), nil
}

// GetAllItems iterates offsets with GetItems(batchSize) until a short
// page is returned, concatenating every page (spec.md §4.3).
func (a *API) GetAllItems(ctx context.Context, batchSize int) ([]Item, error) {
	if batchSize <= 0 {
		batchSize = 400
	}
	var all []Item
	offset := 0
	for {
		page, err := a.GetItems(ctx, batchSize, offset, "")
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < batchSize {
			return all, nil
		}
		offset += batchSize
	}
}

// GetBOMLines fetches every BOM line under parentID.
func (a *API) GetBOMLines(ctx context.Context, parentID string) ([]BOMLine, error) {
	resp, err := a.client.Get(ctx, "/items/"+parentID+"/bom", nil)
	if err != nil {
		return nil, err
	}
	raw := results(resp)
	lines := make([]BOMLine, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]any); ok {
			lines = append(lines, bomLineFromNormalized(m))
		}
	}
	return lines, nil
}

// CreateBOMLine creates one parent->child line with an idempotency key
// so a client-side retry after a transport error cannot double-create
// (SPEC_FULL.md §3).
func (a *API) CreateBOMLine(ctx context.Context, parentID string, line BOMLine) (BOMLine, error) {
	body := map[string]any{
		"itemId":   line.ChildItemID,
		"quantity": line.Quantity,
	}
	resp, err := a.client.PostIdempotent(ctx, "/items/"+parentID+"/bom", body)
	if err != nil {
		return BOMLine{}, err
	}
	return bomLineFromNormalized(resp), nil
}

// UpdateBOMLineQuantity applies the quantity-only PUT smart-sync uses.
// If the server rejects PUT with 405 Method-Not-Allowed, the caller
// (diff engine) falls back to Delete+Create (spec.md §4.5).
func (a *API) UpdateBOMLineQuantity(ctx context.Context, parentID, lineID string, quantity int) error {
	_, err := a.client.Put(ctx, "/items/"+parentID+"/bom/"+lineID, map[string]any{"quantity": quantity})
	return err
}

// DeleteBOMLine removes a line. A 404 is treated as already-deleted by
// the caller during rollback, not here, since normal sync calls need the
// NotFound distinction.
func (a *API) DeleteBOMLine(ctx context.Context, parentID, lineID string) error {
	_, err := a.client.Delete(ctx, "/items/"+parentID+"/bom/"+lineID)
	return err
}

// SetItemAttribute upserts one "additional attribute" value on an item.
func (a *API) SetItemAttribute(ctx context.Context, opaqueID, attributeID string, value any) error {
	_, err := a.client.Patch(ctx, "/items/"+opaqueID+"/attributes", map[string]any{
		"attributes": []map[string]any{{"id": attributeID, "value": value}},
	})
	return err
}

// SetBOMLineAttribute sets an additional-attribute value on a specific
// BOM line, used to tag level-1 lines with the position attribute
// (spec.md §4.8.2).
func (a *API) SetBOMLineAttribute(ctx context.Context, parentID, lineID, attributeID string, value any) error {
	_, err := a.client.Patch(ctx, "/items/"+parentID+"/bom/"+lineID, map[string]any{
		"additionalAttributes": map[string]any{attributeID: value},
	})
	return err
}

// GetCategories lists the workspace's category catalog.
func (a *API) GetCategories(ctx context.Context) ([]Category, error) {
	resp, err := a.client.Get(ctx, "/settings/categories", nil)
	if err != nil {
		return nil, err
	}
	var out []Category
	for _, r := range results(resp) {
		if m, ok := r.(map[string]any); ok {
			out = append(out, Category{ID: str(m, "id"), Name: str(m, "name")})
		}
	}
	return out, nil
}

// GetItemAttributeSettings lists configurable item attributes.
func (a *API) GetItemAttributeSettings(ctx context.Context) ([]AttributeSetting, error) {
	resp, err := a.client.Get(ctx, "/settings/items/attributes", nil)
	if err != nil {
		return nil, err
	}
	var out []AttributeSetting
	for _, r := range results(resp) {
		if m, ok := r.(map[string]any); ok {
			out = append(out, AttributeSetting{ID: str(m, "id"), Name: str(m, "name")})
		}
	}
	return out, nil
}

// GetLifecyclePhases lists the workspace's lifecycle phase catalog.
func (a *API) GetLifecyclePhases(ctx context.Context) ([]LifecyclePhase, error) {
	resp, err := a.client.Get(ctx, "/settings/items/lifecyclephases", nil)
	if err != nil {
		return nil, err
	}
	var out []LifecyclePhase
	for _, r := range results(resp) {
		if m, ok := r.(map[string]any); ok {
			out = append(out, LifecyclePhase{ID: str(m, "id"), Name: str(m, "name")})
		}
	}
	return out, nil
}

// ProbeWorkspace hits the cheap metadata endpoint used by pre-flight to
// confirm the session is reachable (spec.md §4.8.1).
func (a *API) ProbeWorkspace(ctx context.Context) error {
	_, err := a.client.Get(ctx, "/settings/workspace", nil)
	return err
}

func itemsFromResults(resp map[string]any) []Item {
	raw := results(resp)
	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]any); ok {
			items = append(items, itemFromNormalized(m))
		}
	}
	return items
}

// PostIdempotent is Client.Post with an idempotency key attached, used
// by create-item and create-BOM-line operations so a client-side retry
// after a transport error never double-creates (SPEC_FULL.md §3).
func (c *Client) PostIdempotent(ctx context.Context, path string, body any) (map[string]any, error) {
	key := uuid.NewString()
	wrapped := withIdempotencyKey(body, key)
	return c.do(ctx, "POST", path, nil, wrapped)
}

func withIdempotencyKey(body any, key string) any {
	m, ok := body.(map[string]any)
	if !ok {
		return body
	}
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out["idempotencyKey"] = key
	return out
}
