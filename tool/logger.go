package tool

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

var (
	defaultLogDir = "log"
	DefaultLogger = log.Default()
)

// InitLogger tees the default logger into a dated file under dir (or ./log).
func InitLogger(dir string) {
	if dir == "" {
		dir = defaultLogDir
	}
	_ = os.MkdirAll(dir, 0o755)

	logFile := filepath.Join(dir, time.Now().Format("2006-01-02.log"))
	f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		panic(err)
	}
	DefaultLogger.SetOutput(io.MultiWriter(os.Stdout, f))
	DefaultLogger.SetTimeFormat("2006-01-02 15:04:05")
	DefaultLogger.SetReportCaller(true)
}

// SetLogMode maps dev|prod|none onto a level.
func SetLogMode(mode string) {
	switch strings.ToLower(mode) {
	case "", "dev":
		DefaultLogger.SetLevel(log.DebugLevel)
	case "prod":
		DefaultLogger.SetLevel(log.InfoLevel)
	case "none":
		DefaultLogger.SetLevel(log.FatalLevel)
	default:
		DefaultLogger.Warnf("Unknown log mode %q, using debug level", mode)
		DefaultLogger.SetLevel(log.DebugLevel)
	}
}
