package geo

import (
	"fmt"

	"github.com/okian/installmatch/internal/domain/errkind"
)

// Sentinel kinds for geo errors.
var (
	ErrUnknownMode = fmt.Errorf("%w: unknown travel mode", errkind.ErrInvalidConfig)
)
