package logging

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

const redacted = "[redacted]"

// secretKeys never reach a log sink with their value. Authority credentials
// and the postgres DSN pass through config logging and request errors.
var secretKeys = map[string]struct{}{
	"api_key":       {},
	"authorization": {},
	"dsn":           {},
	"password":      {},
	"token":         {},
}

func isSecret(key string) bool {
	_, ok := secretKeys[strings.ToLower(key)]
	return ok
}

func newJSONHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	opts := slog.HandlerOptions{
		Level:     lvl,
		AddSource: addSource,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				if len(groups) > 0 {
					break
				}
				attr.Key = "ts"
				if attr.Value.Kind() == slog.KindTime {
					attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(time.RFC3339Nano))
				}
			case slog.LevelKey:
				attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
			case slog.SourceKey:
				if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
					attr.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
				}
			default:
				if isSecret(attr.Key) {
					attr.Value = slog.StringValue(redacted)
				}
			}
			return attr
		},
	}
	return slog.NewJSONHandler(w, &opts)
}
