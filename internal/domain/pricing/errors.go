package pricing

import (
	"fmt"

	"github.com/okian/installmatch/internal/domain/errkind"
)

// Sentinel kinds for pricing errors. All are configuration errors.
var (
	ErrInvalidFee        = fmt.Errorf("%w: invalid fee", errkind.ErrInvalidConfig)
	ErrInvalidPercent    = fmt.Errorf("%w: percentage outside [0,100]", errkind.ErrInvalidConfig)
	ErrInvalidRule       = fmt.Errorf("%w: invalid urgency rule", errkind.ErrInvalidConfig)
	ErrUnknownUrgency    = fmt.Errorf("%w: unknown urgency", errkind.ErrInvalidConfig)
	ErrUnknownQuality    = fmt.Errorf("%w: unknown material quality", errkind.ErrInvalidConfig)
	ErrUnknownComplexity = fmt.Errorf("%w: unknown complexity", errkind.ErrInvalidConfig)
	ErrInvalidQuote      = fmt.Errorf("%w: invalid quote input", errkind.ErrInvalidConfig)
)
