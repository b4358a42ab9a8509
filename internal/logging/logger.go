package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LogLevel определяет уровни логирования
type LogLevel int

const (
	TRACE LogLevel = iota
	DEBUG
	INFO
	WARN
	ERROR
)

// String возвращает строковое представление уровня логирования
func (l LogLevel) String() string {
	switch l {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel разбирает уровень из строки конфигурации. Неизвестные значения дают INFO.
func ParseLevel(s string) LogLevel {
	switch s {
	case "trace", "TRACE":
		return TRACE
	case "debug", "DEBUG":
		return DEBUG
	case "warn", "WARN":
		return WARN
	case "error", "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Logger пишет сообщения компонента в консоль и (опционально) в файл
type Logger struct {
	component       string
	consoleLogger   *log.Logger
	fileLogger      *log.Logger
	file            *os.File
	minConsoleLevel LogLevel
	minFileLevel    LogLevel
	mu              sync.Mutex
}

// LogDir каталог для файловых логов
var LogDir = "logs"

// defaultLogger используется пакетными функциями Info/Debug/...
// До вызова InitDefaultLogger пишет только в консоль.
var defaultLogger = &Logger{
	component:       "main",
	consoleLogger:   log.New(os.Stdout, "", log.LstdFlags),
	minConsoleLevel: INFO,
	minFileLevel:    DEBUG,
}

// NewLogger создаёт логгер компонента с файлом logs/<component>_<timestamp>.log
func NewLogger(component string) (*Logger, error) {
	if err := os.MkdirAll(LogDir, 0755); err != nil {
		return nil, fmt.Errorf("ошибка создания директории %s: %w", LogDir, err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	filename := filepath.Join(LogDir, fmt.Sprintf("%s_%s.log", component, timestamp))

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания файла логов: %w", err)
	}

	return &Logger{
		component:       component,
		consoleLogger:   log.New(os.Stdout, "", log.LstdFlags),
		fileLogger:      log.New(file, "", log.LstdFlags),
		file:            file,
		minConsoleLevel: INFO,
		minFileLevel:    DEBUG,
	}, nil
}

// NewConsoleLogger создаёт логгер без файлового вывода (тесты, fallback)
func NewConsoleLogger(component string, level LogLevel) *Logger {
	return &Logger{
		component:       component,
		consoleLogger:   defaultLogger.consoleLogger,
		minConsoleLevel: level,
		minFileLevel:    ERROR,
	}
}

// InitDefaultLogger инициализирует глобальный логгер с файловым выводом
func InitDefaultLogger(component string) error {
	logger, err := NewLogger(component)
	if err != nil {
		return err
	}
	defaultLogger = logger
	return nil
}

// CloseDefaultLogger закрывает файл глобального логгера
func CloseDefaultLogger() {
	if defaultLogger != nil {
		_ = defaultLogger.Close()
	}
}

// SetDefaultLevel меняет минимальный уровень консольного вывода глобального логгера
func SetDefaultLevel(level LogLevel) {
	defaultLogger.mu.Lock()
	defaultLogger.minConsoleLevel = level
	defaultLogger.mu.Unlock()
}

// Close закрывает файл логов
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	l.fileLogger = nil
	return err
}

// Trace логирует сообщение уровня TRACE
func (l *Logger) Trace(format string, args ...interface{}) { l.log(TRACE, format, args...) }

// Debug логирует сообщение уровня DEBUG
func (l *Logger) Debug(format string, args ...interface{}) { l.log(DEBUG, format, args...) }

// Info логирует сообщение уровня INFO
func (l *Logger) Info(format string, args ...interface{}) { l.log(INFO, format, args...) }

// Warn логирует сообщение уровня WARN
func (l *Logger) Warn(format string, args ...interface{}) { l.log(WARN, format, args...) }

// Error логирует сообщение уровня ERROR
func (l *Logger) Error(format string, args ...interface{}) { l.log(ERROR, format, args...) }

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.minConsoleLevel && (l.fileLogger == nil || level < l.minFileLevel) {
		return
	}

	message := fmt.Sprintf("[%s] [%s] %s", level.String(), l.component, fmt.Sprintf(format, args...))

	if l.fileLogger != nil && level >= l.minFileLevel {
		l.fileLogger.Println(message)
	}
	if l.consoleLogger != nil && level >= l.minConsoleLevel {
		l.consoleLogger.Println(message)
	}
}

// Trace логирует сообщение уровня TRACE глобальным логгером
func Trace(format string, args ...interface{}) { defaultLogger.log(TRACE, format, args...) }

// Debug логирует сообщение уровня DEBUG глобальным логгером
func Debug(format string, args ...interface{}) { defaultLogger.log(DEBUG, format, args...) }

// Info логирует сообщение уровня INFO глобальным логгером
func Info(format string, args ...interface{}) { defaultLogger.log(INFO, format, args...) }

// Warn логирует сообщение уровня WARN глобальным логгером
func Warn(format string, args ...interface{}) { defaultLogger.log(WARN, format, args...) }

// Error логирует сообщение уровня ERROR глобальным логгером
func Error(format string, args ...interface{}) { defaultLogger.log(ERROR, format, args...) }
