package cli

import (
	"io"
	"log/slog"
	"strings"

	"github.com/aretw0/convengine/internal/config"
	"github.com/aretw0/convengine/internal/logging"
)

// NewLogger configures the application logger from the log section.
// Logs go to w so they stay separate from command output on stdout.
func NewLogger(w io.Writer, cfg config.LogConfig) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	format := logging.FormatText
	if strings.EqualFold(cfg.Format, "json") {
		format = logging.FormatJSON
	}
	return logging.NewWithFormat(w, level, format), nil
}
