package service

import (
	"context"
	"sort"

	"planstore/entity"
	"planstore/storage"
)

// TodoSectionService manages per-user ordered task containers. Plain
// CRUD plus ordering and display helpers; sections have no recursive
// structure and no cycle concerns.
type TodoSectionService struct {
	*Base[entity.TodoSection, *entity.TodoSection]
}

// NewTodoSectionService creates the service.
func NewTodoSectionService(mgr *storage.Manager, rt Runtime) *TodoSectionService {
	return &TodoSectionService{
		Base: NewBase[entity.TodoSection](mgr, storage.KeyTodoSections, rt),
	}
}

// GetByUser returns a user's sections ordered by their display index.
func (s *TodoSectionService) GetByUser(ctx context.Context, userID string) ([]entity.TodoSection, error) {
	sections, err := s.Find(ctx, func(sec *entity.TodoSection) bool { return sec.UserID == userID })
	if err != nil {
		return nil, err
	}
	sort.SliceStable(sections, func(i, j int) bool {
		return sections[i].OrderIndex < sections[j].OrderIndex
	})
	return sections, nil
}

// Reorder moves one section to a new display index.
func (s *TodoSectionService) Reorder(ctx context.Context, id string, orderIndex int) (*entity.TodoSection, error) {
	return s.Update(ctx, id, func(sec *entity.TodoSection) {
		sec.OrderIndex = orderIndex
	})
}

// ReorderAll applies a batch of id to index assignments in one collection
// write. Unknown ids are skipped.
func (s *TodoSectionService) ReorderAll(ctx context.Context, order map[string]int) ([]entity.TodoSection, error) {
	ids := make([]string, 0, len(order))
	for id := range order {
		ids = append(ids, id)
	}
	return s.UpdateMany(ctx, ids, func(sec *entity.TodoSection) {
		if idx, ok := order[sec.ID]; ok {
			sec.OrderIndex = idx
		}
	})
}

// SetExpanded expands or collapses one section.
func (s *TodoSectionService) SetExpanded(ctx context.Context, id string, expanded bool) (*entity.TodoSection, error) {
	return s.Update(ctx, id, func(sec *entity.TodoSection) {
		sec.IsExpanded = expanded
	})
}

// ToggleExpanded flips the expanded state of one section.
func (s *TodoSectionService) ToggleExpanded(ctx context.Context, id string) (*entity.TodoSection, error) {
	return s.Update(ctx, id, func(sec *entity.TodoSection) {
		sec.IsExpanded = !sec.IsExpanded
	})
}

// SetAllExpanded expands or collapses every section of a user.
func (s *TodoSectionService) SetAllExpanded(ctx context.Context, userID string, expanded bool) ([]entity.TodoSection, error) {
	sections, err := s.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(sections))
	for i := range sections {
		ids = append(ids, sections[i].ID)
	}
	return s.UpdateMany(ctx, ids, func(sec *entity.TodoSection) {
		sec.IsExpanded = expanded
	})
}

// SetAppearance updates the cosmetic color and icon of a section. Empty
// values clear the corresponding field.
func (s *TodoSectionService) SetAppearance(ctx context.Context, id, color, icon string) (*entity.TodoSection, error) {
	return s.Update(ctx, id, func(sec *entity.TodoSection) {
		sec.Color = color
		sec.Icon = icon
	})
}
