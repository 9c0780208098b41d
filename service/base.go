package service

import (
	"context"

	"planstore/entity"
	"planstore/storage"
)

// Record is the contract every persisted entity satisfies: access to the
// shared base fields and a type-specific validity predicate. Validation
// is fail-fast so malformed data never reaches storage.
type Record interface {
	Meta() *entity.Base
	Validate() error
}

// normalizer is implemented by entities that repair legacy data on write.
type normalizer interface{ Normalize() }

// Page is one page of a paginated collection read.
type Page[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalPages int `json:"totalPages"`
}

// Base is the generic repository. Each entity type occupies a single
// collection key holding a JSON array; every operation is a full
// read-modify-write of that array, so the collection is the unit of
// consistency and concurrent writers race last-write-wins.
type Base[T any, PT interface {
	Record
	*T
}] struct {
	mgr *storage.Manager
	key string
	rt  Runtime
}

// NewBase creates a repository for the collection stored under key.
func NewBase[T any, PT interface {
	Record
	*T
}](mgr *storage.Manager, key string, rt Runtime) *Base[T, PT] {
	return &Base[T, PT]{mgr: mgr, key: key, rt: rt.normalized()}
}

// Key returns the collection key this repository persists under.
func (b *Base[T, PT]) Key() string { return b.key }

// load reads the whole collection, returning an empty slice when the key
// has never been written.
func (b *Base[T, PT]) load(ctx context.Context) ([]T, error) {
	var items []T
	found, err := b.mgr.Get(ctx, b.key, &items)
	if err != nil {
		return nil, err
	}
	if !found || items == nil {
		return []T{}, nil
	}
	return items, nil
}

// save persists the whole collection.
func (b *Base[T, PT]) save(ctx context.Context, items []T) error {
	return b.mgr.Set(ctx, b.key, items)
}

// stamp applies creation bookkeeping: id (caller-supplied ids are honored
// for idempotent upserts), paired timestamps and device attribution.
func (b *Base[T, PT]) stamp(p PT) {
	meta := p.Meta()
	if meta.ID == "" {
		meta.ID = b.rt.NewID()
	}
	now := b.rt.Now()
	meta.CreatedAt = now
	meta.UpdatedAt = now
	meta.DeviceID = b.rt.DeviceID
	if n, ok := any(p).(normalizer); ok {
		n.Normalize()
	}
}

// Create validates and persists a new entity. A caller-supplied id
// replaces any existing entity with that id instead of duplicating it.
func (b *Base[T, PT]) Create(ctx context.Context, item T) (*T, error) {
	p := PT(&item)
	b.stamp(p)
	if err := p.Validate(); err != nil {
		return nil, err
	}

	items, err := b.load(ctx)
	if err != nil {
		return nil, err
	}

	id := p.Meta().ID
	replaced := false
	for i := range items {
		if PT(&items[i]).Meta().ID == id {
			items[i] = item
			replaced = true
			break
		}
	}
	if !replaced {
		items = append(items, item)
	}

	if err := b.save(ctx, items); err != nil {
		return nil, err
	}
	return &item, nil
}

// CreateMany persists a batch of new entities with a single collection
// write. Validation failure of any entity fails the whole batch before
// anything is written.
func (b *Base[T, PT]) CreateMany(ctx context.Context, batch []T) ([]T, error) {
	for i := range batch {
		p := PT(&batch[i])
		b.stamp(p)
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}

	items, err := b.load(ctx)
	if err != nil {
		return nil, err
	}
	items = append(items, batch...)

	if err := b.save(ctx, items); err != nil {
		return nil, err
	}
	return batch, nil
}

// GetByID returns the entity with the given id, or nil when absent.
// Absence is a valid outcome, not an error.
func (b *Base[T, PT]) GetByID(ctx context.Context, id string) (*T, error) {
	items, err := b.load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if PT(&items[i]).Meta().ID == id {
			item := items[i]
			return &item, nil
		}
	}
	return nil, nil
}

// GetByIDs returns the entities matching the given ids, skipping absent
// ones, in collection order.
func (b *Base[T, PT]) GetByIDs(ctx context.Context, ids []string) ([]T, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	items, err := b.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(ids))
	for i := range items {
		if want[PT(&items[i]).Meta().ID] {
			out = append(out, items[i])
		}
	}
	return out, nil
}

// GetAll returns the full collection. Never nil.
func (b *Base[T, PT]) GetAll(ctx context.Context) ([]T, error) {
	return b.load(ctx)
}

// Update applies mutate to the entity with the given id, re-validates and
// persists. The id and creation timestamp are force-preserved; updatedAt
// and the device id are refreshed. Returns (nil, nil) when id is absent.
func (b *Base[T, PT]) Update(ctx context.Context, id string, mutate func(PT)) (*T, error) {
	items, err := b.load(ctx)
	if err != nil {
		return nil, err
	}

	for i := range items {
		p := PT(&items[i])
		meta := p.Meta()
		if meta.ID != id {
			continue
		}

		createdAt := meta.CreatedAt
		mutate(p)
		meta = p.Meta()
		meta.ID = id
		meta.CreatedAt = createdAt
		meta.UpdatedAt = b.rt.Now()
		meta.DeviceID = b.rt.DeviceID
		if n, ok := any(p).(normalizer); ok {
			n.Normalize()
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}

		if err := b.save(ctx, items); err != nil {
			return nil, err
		}
		item := items[i]
		return &item, nil
	}
	return nil, nil
}

// UpdateMany applies mutate to every listed entity and persists with one
// collection write. Absent ids are skipped. Returns the updated entities.
func (b *Base[T, PT]) UpdateMany(ctx context.Context, ids []string, mutate func(PT)) ([]T, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	items, err := b.load(ctx)
	if err != nil {
		return nil, err
	}

	updated := make([]T, 0, len(ids))
	for i := range items {
		p := PT(&items[i])
		meta := p.Meta()
		if !want[meta.ID] {
			continue
		}

		id, createdAt := meta.ID, meta.CreatedAt
		mutate(p)
		meta = p.Meta()
		meta.ID = id
		meta.CreatedAt = createdAt
		meta.UpdatedAt = b.rt.Now()
		meta.DeviceID = b.rt.DeviceID
		if n, ok := any(p).(normalizer); ok {
			n.Normalize()
		}
		if err := p.Validate(); err != nil {
			return nil, err
		}
		updated = append(updated, items[i])
	}

	if len(updated) == 0 {
		return updated, nil
	}
	if err := b.save(ctx, items); err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the entity with the given id. The per-record composite
// key is removed first so a remote adapter can soft-delete the individual
// row, then the collection array is rewritten without it. Returns false
// when id is absent.
func (b *Base[T, PT]) Delete(ctx context.Context, id string) (bool, error) {
	items, err := b.load(ctx)
	if err != nil {
		return false, err
	}

	idx := -1
	for i := range items {
		if PT(&items[i]).Meta().ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}

	if err := b.mgr.Remove(ctx, storage.RecordKey(b.key, id)); err != nil {
		return false, err
	}

	items = append(items[:idx], items[idx+1:]...)
	if err := b.save(ctx, items); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteMany removes every listed entity, issuing one composite-key
// removal per present id before a single collection rewrite. Returns the
// number of entities removed.
func (b *Base[T, PT]) DeleteMany(ctx context.Context, ids []string) (int, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	items, err := b.load(ctx)
	if err != nil {
		return 0, err
	}

	kept := items[:0]
	removed := 0
	for i := range items {
		id := PT(&items[i]).Meta().ID
		if !want[id] {
			kept = append(kept, items[i])
			continue
		}
		if err := b.mgr.Remove(ctx, storage.RecordKey(b.key, id)); err != nil {
			return removed, err
		}
		removed++
	}
	if removed == 0 {
		return 0, nil
	}

	if err := b.save(ctx, kept); err != nil {
		return removed, err
	}
	return removed, nil
}

// Find returns every entity matching pred, in collection order.
func (b *Base[T, PT]) Find(ctx context.Context, pred func(*T) bool) ([]T, error) {
	items, err := b.load(ctx)
	if err != nil {
		return nil, err
	}
	out := []T{}
	for i := range items {
		if pred(&items[i]) {
			out = append(out, items[i])
		}
	}
	return out, nil
}

// FindOne returns the first entity matching pred, or nil.
func (b *Base[T, PT]) FindOne(ctx context.Context, pred func(*T) bool) (*T, error) {
	items, err := b.load(ctx)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if pred(&items[i]) {
			item := items[i]
			return &item, nil
		}
	}
	return nil, nil
}

// Paginate returns one page of the collection. Pages are 1-based; an
// out-of-range page yields an empty item list with accurate totals.
func (b *Base[T, PT]) Paginate(ctx context.Context, page, pageSize int) (Page[T], error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}

	items, err := b.load(ctx)
	if err != nil {
		return Page[T]{}, err
	}

	total := len(items)
	totalPages := (total + pageSize - 1) / pageSize
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	return Page[T]{
		Items:      append([]T{}, items[start:end]...),
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// Exists reports whether an entity with the given id is stored.
func (b *Base[T, PT]) Exists(ctx context.Context, id string) (bool, error) {
	item, err := b.GetByID(ctx, id)
	return item != nil, err
}

// Count returns the number of stored entities.
func (b *Base[T, PT]) Count(ctx context.Context) (int, error) {
	items, err := b.load(ctx)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Clear removes the whole collection.
func (b *Base[T, PT]) Clear(ctx context.Context) error {
	return b.mgr.Remove(ctx, b.key)
}

// Subscribe registers fn for change events on this collection and returns
// an unsubscribe function.
func (b *Base[T, PT]) Subscribe(fn func(storage.Event)) func() {
	return b.mgr.Subscribe(b.key, fn)
}
