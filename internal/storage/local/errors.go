package local

import (
	"fmt"

	"github.com/felixgeelhaar/proctor/internal/domain"
)

var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = fmt.Errorf("local store: %w", domain.ErrNotFound)
)
