package model

import (
	"fmt"

	"github.com/okian/installmatch/internal/domain/errkind"
)

// Sentinel kinds for record validation.
var (
	ErrInvalidJob        = fmt.Errorf("%w: invalid job", errkind.ErrInvalidConfig)
	ErrInvalidContractor = fmt.Errorf("%w: invalid contractor", errkind.ErrInvalidConfig)
	ErrInvalidStatus     = fmt.Errorf("%w: unknown status", errkind.ErrInvalidConfig)
)
