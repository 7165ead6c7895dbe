package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mitmrw/mitmrw/internal/config"
)

// ParseLevel maps a config log level to a slog level. Unknown values fall
// back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLogConf installs the process-wide logger. Records go to stdout, to a
// rotated file under dir (GetLogDir when dir is empty) and to every extra
// writer, typically the API log Broadcaster.
func SetLogConf(level string, dir string, extra ...io.Writer) {
	if dir != "" {
		SetLogDir(dir)
	}
	rotator := &lumberjack.Logger{
		Filename:   GetLogFilePath(),
		MaxSize:    5, // megabytes
		MaxBackups: 5,
		MaxAge:     7, // days
		LocalTime:  true,
		Compress:   true,
	}

	writers := []io.Writer{os.Stdout, rotator}
	for _, w := range extra {
		if w != nil {
			writers = append(writers, w)
		}
	}

	slog.SetDefault(NewLogger(io.MultiWriter(writers...), ParseLevel(level)))
}

// NewLogger builds the text logger used across the proxy, with timestamps
// rendered in the local zone.
func NewLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	loc := LoadLocalLocation()
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.String(slog.TimeKey, a.Value.Time().In(loc).Format(time.DateTime))
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func LogHeader(version string, cfg *config.Config) {
	slog.Info("mitmrw started", slog.String("version", version), slog.Any("config", cfg))
}

func LogDebugWithAddr(src string, dest string, msg string) {
	slog.Debug(msg, slog.String("src", src), slog.String("dest", dest))
}

func LogInfoWithAddr(src string, dest string, msg string) {
	slog.Info(msg, slog.String("src", src), slog.String("dest", dest))
}

func LogWarnWithAddr(src string, dest string, msg string) {
	slog.Warn(msg, slog.String("src", src), slog.String("dest", dest))
}

func LogErrorWithAddr(src string, dest string, msg string) {
	slog.Error(msg, slog.String("src", src), slog.String("dest", dest))
}

// LoadLocalLocation resolves the local timezone from /etc/localtime, then
// from the OpenWrt style /etc/TZ, else UTC.
func LoadLocalLocation() *time.Location {
	if _, err := os.Stat("/etc/localtime"); err == nil {
		if loc, _ := time.LoadLocation("Local"); loc != nil {
			return loc
		}
	}
	data, err := os.ReadFile("/etc/TZ")
	if err != nil {
		return time.UTC
	}
	tz := strings.TrimSpace(string(data))
	switch {
	case strings.HasPrefix(tz, "CST-8"):
		return time.FixedZone("CST", 8*3600)
	case tz == "" || strings.HasPrefix(tz, "UTC"):
		return time.UTC
	}
	if loc, err := time.LoadLocation(tz); err == nil {
		return loc
	}
	return time.UTC
}
