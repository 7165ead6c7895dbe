//go:build unix

package log

import (
	"log/slog"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

// GetOSInfo returns runtime and uname attributes for the startup banner.
func GetOSInfo() []any {
	attrs := baseOSInfo()
	var uname unix.Utsname
	if err := unix.Uname(&uname); err != nil {
		return append(attrs, slog.String("uname", err.Error()))
	}
	return append(attrs,
		slog.String("sysname", unix.ByteSliceToString(uname.Sysname[:])),
		slog.String("release", unix.ByteSliceToString(uname.Release[:])),
		slog.String("machine", unix.ByteSliceToString(uname.Machine[:])),
	)
}

func baseOSInfo() []any {
	attrs := []any{
		slog.String("GOOS", runtime.GOOS),
		slog.String("GOARCH", runtime.GOARCH),
		slog.String("Go Version", runtime.Version()),
	}
	if hostname, err := os.Hostname(); err == nil {
		attrs = append(attrs, slog.String("hostname", hostname))
	}
	return attrs
}
