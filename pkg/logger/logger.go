// Package logger provides a process-wide sugared logger. Components log
// through the package-level functions so that callers never carry a logger
// handle around.
package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var sugar *zap.SugaredLogger

func init() {
	sugar = newLogger(zapcore.DebugLevel, "").Sugar()
}

// Configure replaces the default logger. An empty filePath logs to stderr
// only; otherwise logs are also written to a rotated file.
func Configure(level zapcore.Level, filePath string) {
	sugar = newLogger(level, filePath).Sugar()
}

func newLogger(level zapcore.Level, filePath string) *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level),
	}

	if filePath != "" {
		fileSink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     28, // days
		})
		cores = append(cores, zapcore.NewCore(encoder, fileSink, level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

func Debug(args ...interface{}) { sugar.Debug(args...) }

func Debugf(template string, args ...interface{}) { sugar.Debugf(template, args...) }

func Info(args ...interface{}) { sugar.Info(args...) }

func Infof(template string, args ...interface{}) { sugar.Infof(template, args...) }

func Warn(args ...interface{}) { sugar.Warn(args...) }

func Warnf(template string, args ...interface{}) { sugar.Warnf(template, args...) }

func Error(args ...interface{}) { sugar.Error(args...) }

func Errorf(template string, args ...interface{}) { sugar.Errorf(template, args...) }

func Fatal(args ...interface{}) { sugar.Fatal(args...) }

func Fatalf(template string, args ...interface{}) { sugar.Fatalf(template, args...) }
