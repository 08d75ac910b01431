package state

import "fmt"

// Command is one atomic mutation request: set a field path to a
// value. Commands are immutable once constructed and carry normalized
// values.
type Command struct {
	// Path is the target field.
	Path Field

	// Value is the normalized desired value.
	Value any
}

// String renders the command for logs.
func (c Command) String() string {
	return fmt.Sprintf("%s=%v", c.Path, c.Value)
}
