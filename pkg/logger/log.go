/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type (
	alwaysLevel     struct{}
	loggerComposite struct {
		debug   *zap.Logger
		debugS  *zap.SugaredLogger
		info    *zap.Logger
		infoS   *zap.SugaredLogger
		warn    *zap.Logger
		warnS   *zap.SugaredLogger
		error   *zap.Logger
		errorS  *zap.SugaredLogger
		stat    *zap.Logger
		config  *zap.Logger
		configS *zap.SugaredLogger
	}
	// FileConfig controls the rotating log files written by SetupZapLogger.
	FileConfig struct {
		Dir string
		// MaxSizeMB is the size of one file before it gets rotated
		MaxSizeMB  int
		MaxBackups int
		MaxAgeDays int
		// Stdout additionally tees every logger to stdout
		Stdout bool
	}
)

var (
	zapLogger       *loggerComposite
	consoleSnapshot *loggerComposite
	DebugEnabled    = os.Getenv("DEBUG") == "true"

	encoderConfig = zapcore.EncoderConfig{
		TimeKey:          "time",
		LevelKey:         "level",
		NameKey:          "logger",
		CallerKey:        "caller",
		MessageKey:       "msg",
		StacktraceKey:    "stacktrace",
		ConsoleSeparator: " ",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000"),
		EncodeDuration:   zapcore.SecondsDurationEncoder,
	}
)

// init initializes default loggers (to console)
func init() {
	stdoutConfig := encoderConfig
	stdoutConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
	newConsoleLogger := func() *zap.Logger {
		return zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(stdoutConfig), zapcore.AddSync(os.Stdout), alwaysLevel{}))
	}
	consoleSnapshot = &loggerComposite{
		debug:  newConsoleLogger(),
		info:   newConsoleLogger(),
		warn:   newConsoleLogger(),
		error:  newConsoleLogger(),
		stat:   newConsoleLogger(),
		config: newConsoleLogger(),
	}
	install(consoleSnapshot)
}

func (a alwaysLevel) Enabled(level zapcore.Level) bool {
	return true
}

func install(c *loggerComposite) {
	c.debugS = c.debug.Sugar()
	c.infoS = c.info.Sugar()
	c.warnS = c.warn.Sugar()
	c.errorS = c.error.Sugar()
	c.configS = c.config.Sugar()
	zapLogger = c
}

// SetupZapLogger switches all loggers to rotating files under cfg.Dir.
func SetupZapLogger(cfg FileConfig) error {
	if cfg.Dir == "" {
		cfg.Dir = "logs"
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 1024
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 7
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return err
	}

	stdoutConfig := encoderConfig
	stdoutConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	newFileLogger := func(name string) *zap.Logger {
		w := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, name),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			LocalTime:  true,
		}
		fileCore := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(w), alwaysLevel{})
		if cfg.Stdout {
			return zap.New(zapcore.NewTee(
				zapcore.NewCore(zapcore.NewConsoleEncoder(stdoutConfig), zapcore.AddSync(os.Stdout), alwaysLevel{}),
				fileCore,
			))
		}
		return zap.New(fileCore)
	}

	install(&loggerComposite{
		debug:  newFileLogger("debug.log"),
		info:   newFileLogger("info.log"),
		warn:   newFileLogger("warn.log"),
		error:  newFileLogger("error.log"),
		stat:   newFileLogger("stat.log"),
		config: newFileLogger("config.log"),
	})
	return nil
}

// Sync flushes every logger.
func Sync() {
	c := zapLogger
	for _, l := range []*zap.Logger{c.debug, c.info, c.warn, c.error, c.stat, c.config} {
		l.Sync()
	}
}

func Debugz(msg string, fields ...zap.Field) {
	if DebugEnabled {
		zapLogger.debug.Info(msg, fields...)
	}
}
func Infoz(msg string, fields ...zap.Field) {
	zapLogger.info.Info(msg, fields...)
}
func Warnz(msg string, fields ...zap.Field) {
	zapLogger.warn.Info(msg, fields...)
}
func Errorz(msg string, fields ...zap.Field) {
	zapLogger.error.Info(msg, fields...)
}
func Configz(msg string, fields ...zap.Field) {
	zapLogger.config.Info(msg, fields...)
}

func Debugw(msg string, keyAndValues ...interface{}) {
	if DebugEnabled {
		zapLogger.debugS.Infow(msg, keyAndValues...)
	}
}
func Infow(msg string, keyAndValues ...interface{}) {
	zapLogger.infoS.Infow(msg, keyAndValues...)
}
func Warnw(msg string, keyAndValues ...interface{}) {
	zapLogger.warnS.Infow(msg, keyAndValues...)
}
func Errorw(msg string, keyAndValues ...interface{}) {
	zapLogger.errorS.Infow(msg, keyAndValues...)
}

func Debugf(msg string, args ...interface{}) {
	if DebugEnabled {
		zapLogger.debugS.Infof(msg, args...)
	}
}
func Infof(msg string, args ...interface{}) {
	zapLogger.infoS.Infof(msg, args...)
}
func Warnf(msg string, args ...interface{}) {
	zapLogger.warnS.Infof(msg, args...)
}
func Errorf(msg string, args ...interface{}) {
	zapLogger.errorS.Infof(msg, args...)
}
func Configf(msg string, args ...interface{}) {
	zapLogger.configS.Infof(msg, args...)
}

func Stat(msg string) {
	zapLogger.stat.Info(msg)
}

func IsDebugEnabled() bool {
	return DebugEnabled
}

// TestMode keeps console loggers and turns on debug output.
func TestMode() {
	DebugEnabled = true
}
