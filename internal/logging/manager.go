package logging

import (
	"fmt"
	"strings"
	"sync"
)

// LoggerManager раздаёт логгеры компонентов (sim, network, storage, sync, api...)
type LoggerManager struct {
	mu           sync.RWMutex
	loggers      map[string]*Logger
	files        bool
	consoleLevel LogLevel
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

// GetLoggerManager возвращает глобальный менеджер логгеров.
// До Configure логгеры пишут только в консоль.
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = &LoggerManager{
			loggers:      make(map[string]*Logger),
			consoleLevel: INFO,
		}
	})
	return globalManager
}

// ParseLevel разбирает имя уровня (trace, debug, info, warn, error)
func ParseLevel(name string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return TRACE, nil
	case "debug":
		return DEBUG, nil
	case "info", "":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("неизвестный уровень логирования %q", name)
	}
}

// Configure задаёт консольный уровень и включает файлы компонентов.
// Уже выданные логгеры получают новый уровень; файлы появятся у новых.
func (lm *LoggerManager) Configure(consoleLevel LogLevel, files bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.consoleLevel = consoleLevel
	lm.files = files
	for _, logger := range lm.loggers {
		logger.SetLevels(consoleLevel, TRACE)
	}
}

// GetLogger возвращает логгер для компонента, создавая его при необходимости
func (lm *LoggerManager) GetLogger(component string) (*Logger, error) {
	lm.mu.RLock()
	if logger, exists := lm.loggers[component]; exists {
		lm.mu.RUnlock()
		return logger, nil
	}
	lm.mu.RUnlock()

	lm.mu.Lock()
	defer lm.mu.Unlock()

	// Проверяем еще раз на случай race condition
	if logger, exists := lm.loggers[component]; exists {
		return logger, nil
	}

	if !lm.files {
		logger := &Logger{
			component:       component,
			consoleLogger:   current().consoleLogger,
			minConsoleLevel: lm.consoleLevel,
			minFileLevel:    ERROR,
		}
		lm.loggers[component] = logger
		return logger, nil
	}

	logger, err := NewLogger(component)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания логгера %s: %w", component, err)
	}
	logger.SetLevels(lm.consoleLevel, TRACE)
	lm.loggers[component] = logger
	return logger, nil
}

// MustGetLogger возвращает логгер или консольный fallback при ошибке
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	logger, err := lm.GetLogger(component)
	if err != nil {
		return &Logger{
			component:       component,
			consoleLogger:   current().consoleLogger,
			minConsoleLevel: INFO,
			minFileLevel:    ERROR,
		}
	}
	return logger
}

// CloseAll закрывает файлы всех логгеров компонентов
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var lastErr error
	for component, logger := range lm.loggers {
		if err := logger.Close(); err != nil {
			lastErr = fmt.Errorf("ошибка закрытия логгера %s: %w", component, err)
		}
	}

	lm.loggers = make(map[string]*Logger)
	return lastErr
}

// GetComponentLogger логгер произвольного компонента
func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().MustGetLogger(component)
}

func GetNetworkLogger() *Logger {
	return GetComponentLogger("network")
}

func GetSimLogger() *Logger {
	return GetComponentLogger("sim")
}

func GetStorageLogger() *Logger {
	return GetComponentLogger("storage")
}

func GetSyncLogger() *Logger {
	return GetComponentLogger("sync")
}
