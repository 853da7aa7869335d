package exchange

import (
	"fmt"
	"log/slog"

	"triarb/internal/config"
)

// NewClient creates a new exchange client based on the given name and configuration.
func NewClient(name string, logger *slog.Logger, cfg *config.ExchangeConfig) (Client, error) {
	switch name {
	case "exmo":
		return NewExmoClient(logger, cfg), nil
	default:
		return nil, fmt.Errorf("unknown exchange: %s", name)
	}
}
