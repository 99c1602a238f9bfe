package config

import (
	"errors"
	"fmt"

	"github.com/okian/installmatch/internal/domain/errkind"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrInvalidConfig = fmt.Errorf("%w: service config", errkind.ErrInvalidConfig)
	ErrLoadConfig    = errors.New("load config failed")
)
