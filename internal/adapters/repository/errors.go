package repository

import (
	"fmt"

	"github.com/okian/installmatch/internal/domain/errkind"
)

// Sentinel kinds for store errors.
var (
	ErrJobNotFound        = fmt.Errorf("job %w", errkind.ErrNotFound)
	ErrContractorNotFound = fmt.Errorf("contractor %w", errkind.ErrNotFound)
	ErrAssignmentNotFound = fmt.Errorf("assignment %w", errkind.ErrNotFound)
	ErrConflict           = fmt.Errorf("record %w", errkind.ErrVersionConflict)
	ErrInvalidLimit       = fmt.Errorf("%w: negative listing limit", errkind.ErrInvalidConfig)
)
