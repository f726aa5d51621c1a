package logging

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sdxdlgz/kiroproxy/internal/config"
)

// SetLogLevel maps a config-file log-level string onto the equivalent
// logrus level, defaulting unknown input to Info.
func SetLogLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "verbose":
		log.SetLevel(log.DebugLevel)
	case "warn", "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	case "quiet", "silent":
		log.SetLevel(log.FatalLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

// SetupBaseLogger installs the formatter and output destination used before
// a config file has been read, so early startup errors are still logged
// sensibly. Call from main's init.
func SetupBaseLogger() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stdout)
	log.AddHook(GlobalBuffer)
}

// ConfigureLogOutput re-applies debug level and, when cfg names a log file
// path, switches output to a lumberjack-rotated file (still mirrored to
// stdout). Safe to call again on config hot-reload.
func ConfigureLogOutput(cfg *config.Config) error {
	if cfg == nil {
		return nil
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	if cfg.LogFile == "" {
		log.SetOutput(os.Stdout)
		return nil
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	return nil
}
