package log

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const appName = "mitmrw"

var (
	logDirMu sync.Mutex
	logDir   string
)

// SetLogDir overrides the directory used for the log file and stats dumps.
func SetLogDir(dir string) {
	logDirMu.Lock()
	defer logDirMu.Unlock()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return
	}
	logDir = dir
}

// GetLogDir returns the log directory, creating it on first use:
// /var/log/mitmrw on Linux when writable, else ~/.mitmrw, else a temp dir.
func GetLogDir() string {
	logDirMu.Lock()
	defer logDirMu.Unlock()
	if logDir != "" {
		return logDir
	}
	logDir = determineLogDir()
	if err := os.MkdirAll(logDir, 0755); err != nil {
		logDir = filepath.Join(os.TempDir(), appName)
		_ = os.MkdirAll(logDir, 0755)
	}
	return logDir
}

func determineLogDir() string {
	if runtime.GOOS == "linux" {
		dir := filepath.Join("/var/log", appName)
		if writable(dir) {
			return dir
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		dir := filepath.Join(home, "."+appName)
		if err := os.MkdirAll(dir, 0755); err == nil {
			return dir
		}
	}
	return filepath.Join(os.TempDir(), appName)
}

func writable(dir string) bool {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".write_test")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}

func GetLogFilePath() string {
	return filepath.Join(GetLogDir(), appName+".log")
}

func GetStatsFilePath(name string) string {
	return filepath.Join(GetLogDir(), name)
}
