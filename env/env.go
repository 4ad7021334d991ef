// Package env resolves process settings from cobra flags, the environment and
// dotenv files, and builds the logger and telemetry pipeline from them.
package env

import (
	"context"
	"os"
	"strings"

	"github.com/agentuity/readaside/logger"
	"github.com/agentuity/readaside/telemetry"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

type EnvLine struct {
	Key string `json:"key"`
	Val string `json:"val"`
}

// ParseEnvFile parses a dotenv file. A missing file yields no lines.
func ParseEnvFile(filename string) ([]EnvLine, error) {
	buf, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return []EnvLine{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", filename)
	}
	return ParseEnvBuffer(buf)
}

// LoadEnvFile exports every line of a dotenv file into the process
// environment. Variables already set to a non-empty value win unless override
// is true. It returns the keys it set.
func LoadEnvFile(filename string, override bool) ([]string, error) {
	lines, err := ParseEnvFile(filename)
	if err != nil {
		return nil, err
	}
	var set []string
	for _, l := range lines {
		if cur, exists := os.LookupEnv(l.Key); exists && cur != "" && !override {
			continue
		}
		if err := os.Setenv(l.Key, l.Val); err != nil {
			return set, errors.Wrapf(err, "setenv %s", l.Key)
		}
		set = append(set, l.Key)
	}
	return set, nil
}

func dequote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '\'' && s[len(s)-1] == '\'') || (s[0] == '"' && s[len(s)-1] == '"') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

// ProcessEnvLine splits KEY=value, removing one level of quotes and an
// optional leading "export ".
func ProcessEnvLine(line string) EnvLine {
	line = strings.TrimPrefix(line, "export ")
	key, val, ok := strings.Cut(line, "=")
	if !ok {
		return EnvLine{Key: strings.TrimSpace(line)}
	}
	return EnvLine{Key: strings.TrimSpace(key), Val: dequote(strings.TrimSpace(val))}
}

// interpolate expands ${NAME}, ${NAME:-default} and ${env:NAME}. References
// that resolve to nothing and carry no default are left as written.
func interpolate(input string, vars map[string]string) string {
	if !strings.Contains(input, "${") || strings.Count(input, "${") != strings.Count(input, "}") {
		return input
	}
	var out strings.Builder
	rest := input
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			out.WriteString(rest)
			return out.String()
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			out.WriteString(rest)
			return out.String()
		}
		end += start
		out.WriteString(rest[:start])
		ref := rest[start : end+1]
		name, def, _ := strings.Cut(rest[start+2:end], ":-")

		var val string
		if envName, ok := strings.CutPrefix(name, "env:"); ok {
			val = os.Getenv(envName)
		} else {
			val = vars[name]
		}
		switch {
		case name == "":
			out.WriteString(ref)
		case val != "":
			out.WriteString(val)
		case def != "":
			out.WriteString(def)
		default:
			out.WriteString(ref)
		}
		rest = rest[end+1:]
	}
}

// ParseEnvBuffer parses dotenv content. Values may reference earlier or later
// keys of the same buffer.
func ParseEnvBuffer(buf []byte) ([]EnvLine, error) {
	envs := make([]EnvLine, 0)
	vars := make(map[string]string)
	for _, line := range strings.Split(string(buf), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		env := ProcessEnvLine(line)
		if env.Key == "" {
			continue
		}
		env.Val = interpolate(env.Val, vars)
		vars[env.Key] = env.Val
		envs = append(envs, env)
	}
	for i := range envs {
		envs[i].Val = interpolate(envs[i].Val, vars)
	}
	return envs, nil
}

// FlagOrEnv will try and get a flag from the cobra.Command and if not found, look it up in the environment
// and fallback to defaultValue if non found
func FlagOrEnv(cmd *cobra.Command, flagName string, envName string, defaultValue string) string {
	flagValue, _ := cmd.Flags().GetString(flagName)
	if flagValue != "" {
		return flagValue
	}
	if val, ok := os.LookupEnv(envName); ok && val != "" {
		return val
	}
	return defaultValue
}

// LogLevel reads --log-level, then LOG_LEVEL, defaulting to info.
func LogLevel(cmd *cobra.Command) logger.LogLevel {
	level, _ := logger.ParseLevel(FlagOrEnv(cmd, "log-level", "LOG_LEVEL", "info"))
	return level
}

// NewLogger returns the process logger. --log-format / LOG_FORMAT selects
// "json" (default) or "console".
func NewLogger(cmd *cobra.Command) logger.Logger {
	return logger.New(FlagOrEnv(cmd, "log-format", "LOG_FORMAT", "json"), LogLevel(cmd))
}

// NewTelemetry returns a telemetry context, logger and shutdown function. The cobra flags it reads are:
//
// --no-telemetry (boolean): if set, telemetry will be disabled
//
// --otlp-url (string): the collector url, falling back to OTEL_EXPORTER_OTLP_ENDPOINT
//
// --otlp-token (string): bearer token for the collector, falling back to OTEL_EXPORTER_OTLP_TOKEN
//
// Telemetry is also disabled when no collector url is configured.
func NewTelemetry(ctx context.Context, cmd *cobra.Command, serviceName string) (context.Context, logger.Logger, func(), error) {
	if noTelemetry, err := cmd.Flags().GetBool("no-telemetry"); err == nil && noTelemetry {
		return ctx, NewLogger(cmd), func() {}, nil
	}
	otlpURL := FlagOrEnv(cmd, "otlp-url", "OTEL_EXPORTER_OTLP_ENDPOINT", "")
	if otlpURL == "" {
		return ctx, NewLogger(cmd), func() {}, nil
	}
	token := FlagOrEnv(cmd, "otlp-token", "OTEL_EXPORTER_OTLP_TOKEN", "")

	telemetryCtx, log, shutdown, err := telemetry.New(ctx, serviceName, otlpURL, token, NewLogger(cmd))
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "error creating telemetry")
	}
	return telemetryCtx, log, shutdown, nil
}
