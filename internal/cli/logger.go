package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
)

// newLogger builds the invocation logger. format is text, json or logfmt.
func newLogger(w io.Writer, level, format string) (*log.Logger, error) {
	if level == "" {
		level = defaultLogLevel
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}

	var formatter log.Formatter
	switch strings.ToLower(format) {
	case "", "text":
		formatter = log.TextFormatter
	case "json":
		formatter = log.JSONFormatter
	case "logfmt":
		formatter = log.LogfmtFormatter
	default:
		return nil, fmt.Errorf("unknown log format %q (valid: text, json, logfmt)", format)
	}

	return log.NewWithOptions(w, log.Options{
		Level:           lvl,
		Formatter:       formatter,
		ReportTimestamp: true,
		Prefix:          "cupboard",
	}), nil
}
