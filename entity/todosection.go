package entity

// TodoSection is a per-user ordered container for organizing tasks. It
// has no recursive structure.
type TodoSection struct {
	Base

	UserID string `json:"userId"`

	Name       string `json:"name"`
	OrderIndex int    `json:"orderIndex"`
	IsExpanded bool   `json:"isExpanded"`

	Color string `json:"color,omitempty"`
	Icon  string `json:"icon,omitempty"`
}

// Validate checks the section invariants enforced before storage.
func (s *TodoSection) Validate() error {
	if err := s.validateBase(); err != nil {
		return err
	}
	if s.UserID == "" {
		return invalidf("section missing userId")
	}
	if s.Name == "" {
		return invalidf("section missing name")
	}
	if s.OrderIndex < 0 {
		return invalidf("section orderIndex must be non-negative")
	}
	return nil
}
