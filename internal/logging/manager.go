package logging

import (
	"fmt"
	"sync"
)

// LoggerManager управляет множественными логгерами для разных компонентов
type LoggerManager struct {
	mu       sync.RWMutex
	loggers  map[string]*Logger
	fileSink bool
}

var (
	globalManager *LoggerManager
	managerOnce   sync.Once
)

// GetLoggerManager возвращает глобальный менеджер логгеров
func GetLoggerManager() *LoggerManager {
	managerOnce.Do(func() {
		globalManager = &LoggerManager{
			loggers: make(map[string]*Logger),
		}
	})
	return globalManager
}

// EnableFileSink включает запись логов компонентов в файлы.
// По умолчанию компоненты пишут только в консоль.
func (lm *LoggerManager) EnableFileSink(enabled bool) {
	lm.mu.Lock()
	lm.fileSink = enabled
	lm.mu.Unlock()
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

	var logger *Logger
	if lm.fileSink {
		var err error
		logger, err = NewLogger(component)
		if err != nil {
			return nil, fmt.Errorf("failed to create logger for %s: %w", component, err)
		}
	} else {
		logger = NewConsoleLogger(component, defaultLogger.minConsoleLevel)
	}

	lm.loggers[component] = logger
	return logger, nil
}

// MustGetLogger возвращает логгер или создает fallback при ошибке
func (lm *LoggerManager) MustGetLogger(component string) *Logger {
	logger, err := lm.GetLogger(component)
	if err != nil {
		return NewConsoleLogger(component, INFO)
	}
	return logger
}

// CloseAll закрывает все логгеры
func (lm *LoggerManager) CloseAll() error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	var lastErr error
	for component, logger := range lm.loggers {
		if err := logger.Close(); err != nil {
			lastErr = fmt.Errorf("failed to close logger for %s: %w", component, err)
		}
	}

	lm.loggers = make(map[string]*Logger)
	return lastErr
}

// SetLogLevel устанавливает уровень логирования для компонента
func (lm *LoggerManager) SetLogLevel(component string, consoleLevel, fileLevel LogLevel) error {
	lm.mu.RLock()
	logger, exists := lm.loggers[component]
	lm.mu.RUnlock()

	if !exists {
		return fmt.Errorf("logger for component %s not found", component)
	}

	logger.mu.Lock()
	logger.minConsoleLevel = consoleLevel
	logger.minFileLevel = fileLevel
	logger.mu.Unlock()
	return nil
}

// Удобные функции для получения логгеров
func GetComponentLogger(component string) *Logger {
	return GetLoggerManager().MustGetLogger(component)
}

func GetStreamingLogger() *Logger {
	return GetComponentLogger("streaming")
}

func GetStorageLogger() *Logger {
	return GetComponentLogger("storage")
}

func GetRenderLogger() *Logger {
	return GetComponentLogger("render")
}

func GetEventLogger() *Logger {
	return GetComponentLogger("eventbus")
}
