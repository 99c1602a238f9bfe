package tier

import (
	"fmt"

	"github.com/okian/installmatch/internal/domain/errkind"
)

// Sentinel kinds for tier errors.
var (
	ErrUnknownTier    = fmt.Errorf("%w: unknown tier", errkind.ErrInvalidConfig)
	ErrInvalidProfile = fmt.Errorf("%w: invalid tier profile", errkind.ErrInvalidConfig)
)
