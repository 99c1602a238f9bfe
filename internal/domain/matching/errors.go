package matching

import (
	"fmt"

	"github.com/okian/installmatch/internal/domain/errkind"
)

// Sentinel kinds for matching errors.
var (
	ErrUnknownPriority = fmt.Errorf("%w: unknown priority", errkind.ErrInvalidConfig)
	ErrInvalidOptions  = fmt.Errorf("%w: invalid match options", errkind.ErrInvalidConfig)
	ErrNoAssigner      = fmt.Errorf("%w: auto-assign requested without an assigner", errkind.ErrInvalidConfig)
)
