package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerMu sync.RWMutex
	logger   = zap.NewNop().Sugar()
)

// InitLogger настраивает глобальный логгер
func InitLogger(level string, outputPaths []string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("неверный уровень логирования %q: %v", level, err)
	}

	if len(outputPaths) == 0 {
		outputPaths = []string{"stdout"}
	}

	// Создаем директории для файловых логов
	for _, path := range outputPaths {
		if path == "stdout" || path == "stderr" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("не удалось создать директорию логов: %v", err)
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = outputPaths
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	built, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return fmt.Errorf("не удалось создать логгер: %v", err)
	}

	loggerMu.Lock()
	logger = built.Sugar()
	loggerMu.Unlock()
	return nil
}

// SetLogger подменяет глобальный логгер
func SetLogger(l *zap.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = l.Sugar()
}

// Logger возвращает текущий логгер
func Logger() *zap.SugaredLogger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// SyncLogger сбрасывает буферы логгера
func SyncLogger() {
	_ = Logger().Sync()
}

// LogInfo логирует информационное сообщение
func LogInfo(format string, v ...interface{}) {
	Logger().Infof(format, v...)
}

// LogError логирует сообщение об ошибке
func LogError(format string, v ...interface{}) {
	Logger().Errorf(format, v...)
}

// LogDebug логирует отладочное сообщение
func LogDebug(format string, v ...interface{}) {
	Logger().Debugf(format, v...)
}

// LogWarn логирует предупреждение
func LogWarn(format string, v ...interface{}) {
	Logger().Warnf(format, v...)
}

// LogOperation логирует операцию с метриками
func LogOperation(operation string, startTime time.Time, err error) {
	duration := time.Since(startTime)
	if err != nil {
		Logger().Errorw("operation failed", "operation", operation, "duration", duration, "error", err)
	} else {
		Logger().Infow("operation completed", "operation", operation, "duration", duration)
	}
}
