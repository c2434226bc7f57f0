package file

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"farmbridge/internal/sink"
)

// Factory parameter keys.
const (
	ParamPath     = "path"
	ParamFileMode = "fileMode"
)

// DefaultFileMode is used when fileMode is not set.
const DefaultFileMode = 0o644

var ErrMissingPathParam = errors.New("missing required parameter: path")

// NewFactory returns a factory that opens CSV file sinks.
func NewFactory() sink.Factory {
	return func(params map[string]string, logger *slog.Logger) (sink.Sink, error) {
		path := params[ParamPath]
		if path == "" {
			return nil, ErrMissingPathParam
		}

		mode := os.FileMode(DefaultFileMode)
		if v, ok := params[ParamFileMode]; ok && v != "" {
			n, err := strconv.ParseUint(v, 8, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid %s %q: %w", ParamFileMode, v, err)
			}
			mode = os.FileMode(n)
		}

		return Open(Config{Path: path, FileMode: mode, Logger: logger})
	}
}
