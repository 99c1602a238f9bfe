package dispatch

import (
	"fmt"

	"github.com/okian/installmatch/internal/domain/errkind"
)

// ErrInvalidMachine reports a machine that cannot be built as configured.
var ErrInvalidMachine = fmt.Errorf("%w: invalid dispatch machine", errkind.ErrInvalidConfig)
