// Package log configures the slog logger of the hdusd CLI from its
// persistent flags: log format (text, json), log level (debug, info, warn,
// error) and output destination (stdout, stderr).
package log

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// ErrInvalidFlag indicates a log flag set to an unsupported value.
var ErrInvalidFlag = errors.New("log: invalid flag value")

// Log format constants
const (
	FormatFlagName = "logformat"

	FormatJSON = "json"
	FormatText = "text"
)

// Log level constants
const (
	LevelFlagName = "loglevel"

	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Log output constants
const (
	OutputFlagName = "logoutput"

	OutputStdout = "stdout"
	OutputStderr = "stderr"
)

var (
	formats = []string{FormatText, FormatJSON}
	levels  = []string{LevelWarn, LevelDebug, LevelInfo, LevelError}
	outputs = []string{OutputStderr, OutputStdout}
)

// RegisterLoggingFlags registers the logging flags on flagset.
// The first value of each list is the default:
//
//	--logformat text|json
//	--loglevel  warn|debug|info|error
//	--logoutput stderr|stdout
func RegisterLoggingFlags(flagset *pflag.FlagSet) {
	flagset.String(FormatFlagName, formats[0], "log format ("+strings.Join(formats, ", ")+")")
	flagset.String(LevelFlagName, levels[0], "log level ("+strings.Join(levels, ", ")+")")
	flagset.String(OutputFlagName, outputs[0], "log destination ("+strings.Join(outputs, ", ")+")")
}

// GetBaseLogger creates a logger from the logging flags of cmd.
func GetBaseLogger(cmd *cobra.Command) (*slog.Logger, error) {
	format, err := enumFlag(cmd.Flags(), FormatFlagName, formats)
	if err != nil {
		return nil, err
	}
	levelName, err := enumFlag(cmd.Flags(), LevelFlagName, levels)
	if err != nil {
		return nil, err
	}
	output, err := enumFlag(cmd.Flags(), OutputFlagName, outputs)
	if err != nil {
		return nil, err
	}

	var w io.Writer
	switch output {
	case OutputStdout:
		w = cmd.OutOrStdout()
	default:
		w = cmd.ErrOrStderr()
	}

	return New(w, format, ParseLevel(levelName)), nil
}

// New creates a logger writing format to w at level.
func New(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel converts a level name to a slog.Level. Unknown names map to warn.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func enumFlag(flags *pflag.FlagSet, name string, allowed []string) (string, error) {
	value, err := flags.GetString(name)
	if err != nil {
		return "", fmt.Errorf("failed to get flag %s: %w", name, err)
	}
	value = strings.ToLower(value)
	if !slices.Contains(allowed, value) {
		return "", fmt.Errorf("%w: %q for --%s, must be one of %s", ErrInvalidFlag, value, name, strings.Join(allowed, ", "))
	}
	return value, nil
}
