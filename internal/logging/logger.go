// Package logging provides config-driven categorized file-based logging for
// the dealership RAG engine. Logs are written to .dealerrag/logs/ with
// separate files per category. Logging is controlled by debug_mode in
// .dealerrag/config.json - when false, no logs are written.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/system
type Category string

const (
	// Core system categories
	CategoryBoot    Category = "boot"    // Boot/initialization
	CategorySession Category = "session" // Conversation sessions, caches
	CategoryAPI     Category = "api"     // LLM API calls
	CategoryServer  Category = "server"  // HTTP surface

	// Index categories
	CategoryEmbedding Category = "embedding" // Embedding client and cache
	CategoryVector    Category = "vector"    // Vector index operations
	CategoryLexical   Category = "lexical"   // Lexical index operations
	CategoryIngest    Category = "ingest"    // Ingestion pipeline

	// Query path categories
	CategoryRetrieval  Category = "retrieval"  // Hybrid retrieval and fusion
	CategoryRerank     Category = "rerank"     // Re-ranking calls
	CategoryIntent     Category = "intent"     // Intent classification
	CategoryGeneration Category = "generation" // Answer synthesis

	// Integration categories
	CategoryDMS     Category = "dms"     // DMS adapter calls
	CategoryBreaker Category = "breaker" // Circuit breaker transitions
)

// loggingConfig mirrors the relevant parts of config.LoggingConfig
// to avoid circular imports
type loggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories"`
	Level      string          `json:"level"`
}

// configFile structure for reading .dealerrag/config.json
type configFile struct {
	Logging loggingConfig `json:"logging"`
}

// Logger wraps a standard logger with category and file output
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers      = make(map[Category]*Logger)
	loggersMu    sync.RWMutex
	logsDir      string
	workspace    string
	config       loggingConfig
	configLoaded bool
	configMu     sync.RWMutex
	logLevel     int // 0=debug, 1=info, 2=warn, 3=error
)

// Log levels
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Initialize sets up the logging directory and loads config.
// Should be called once at startup with the workspace path.
func Initialize(ws string) error {
	if ws == "" {
		return fmt.Errorf("workspace path required")
	}

	workspace = ws
	logsDir = filepath.Join(workspace, ".dealerrag", "logs")

	if err := loadConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not load config: %v\n", err)
		config.DebugMode = false
	}

	// Only create logs directory if debug mode is enabled
	if !config.DebugMode {
		return nil
	}

	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	bootLogger := Get(CategoryBoot)
	bootLogger.Info("=== dealerrag Logging System Initialized ===")
	bootLogger.Info("Workspace: %s", workspace)
	bootLogger.Info("Logs directory: %s", logsDir)
	bootLogger.Info("Log level: %s", config.Level)

	return nil
}

// Configure applies logging settings directly, bypassing the config file.
// The config package calls this after loading the YAML config.
func Configure(debugMode bool, categories map[string]bool, level string) {
	configMu.Lock()
	config.DebugMode = debugMode
	config.Categories = categories
	config.Level = level
	configLoaded = true
	applyLevel(level)
	configMu.Unlock()
}

// loadConfig reads the logging config from .dealerrag/config.json
func loadConfig() error {
	configMu.Lock()
	defer configMu.Unlock()

	configPath := filepath.Join(workspace, ".dealerrag", "config.json")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// No config = production mode (no logging)
			config.DebugMode = false
			configLoaded = true
			return nil
		}
		return err
	}

	var cf configFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	config = cf.Logging
	configLoaded = true
	applyLevel(config.Level)

	return nil
}

func applyLevel(level string) {
	switch level {
	case "debug":
		logLevel = LevelDebug
	case "info":
		logLevel = LevelInfo
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
}

// IsDebugMode returns whether debug logging is enabled
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !config.DebugMode {
		return false
	}

	if config.Categories == nil {
		return true // All enabled by default in debug mode
	}

	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true // Enable by default if not specified
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled or category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	if logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	// Create log file with date prefix for easy rotation
	date := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", date, category)
	logPath := filepath.Join(logsDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l

	return l
}

// Debug logs a debug message (only if level <= debug)
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

// Info logs an informational message (only if level <= info)
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

// Warn logs a warning message (only if level <= warn)
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] %s", fmt.Sprintf(format, args...))
}

// Error logs an error message (always logged if logger exists)
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] %s", fmt.Sprintf(format, args...))
}

// CloseAll closes all open log files (call at shutdown)
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// BootError logs error to the boot category
func BootError(format string, args ...interface{}) {
	Get(CategoryBoot).Error(format, args...)
}

// Session logs to the session category
func Session(format string, args ...interface{}) {
	Get(CategorySession).Info(format, args...)
}

// SessionDebug logs debug to the session category
func SessionDebug(format string, args ...interface{}) {
	Get(CategorySession).Debug(format, args...)
}

// API logs to the api category
func API(format string, args ...interface{}) {
	Get(CategoryAPI).Info(format, args...)
}

// APIError logs error to the api category
func APIError(format string, args ...interface{}) {
	Get(CategoryAPI).Error(format, args...)
}

// Server logs to the server category
func Server(format string, args ...interface{}) {
	Get(CategoryServer).Info(format, args...)
}

// Embedding logs to the embedding category
func Embedding(format string, args ...interface{}) {
	Get(CategoryEmbedding).Info(format, args...)
}

// EmbeddingDebug logs debug to the embedding category
func EmbeddingDebug(format string, args ...interface{}) {
	Get(CategoryEmbedding).Debug(format, args...)
}

// EmbeddingWarn logs warning to the embedding category
func EmbeddingWarn(format string, args ...interface{}) {
	Get(CategoryEmbedding).Warn(format, args...)
}

// Vector logs to the vector category
func Vector(format string, args ...interface{}) {
	Get(CategoryVector).Info(format, args...)
}

// VectorError logs error to the vector category
func VectorError(format string, args ...interface{}) {
	Get(CategoryVector).Error(format, args...)
}

// Lexical logs to the lexical category
func Lexical(format string, args ...interface{}) {
	Get(CategoryLexical).Info(format, args...)
}

// LexicalError logs error to the lexical category
func LexicalError(format string, args ...interface{}) {
	Get(CategoryLexical).Error(format, args...)
}

// Ingest logs to the ingest category
func Ingest(format string, args ...interface{}) {
	Get(CategoryIngest).Info(format, args...)
}

// IngestWarn logs warning to the ingest category
func IngestWarn(format string, args ...interface{}) {
	Get(CategoryIngest).Warn(format, args...)
}

// Retrieval logs to the retrieval category
func Retrieval(format string, args ...interface{}) {
	Get(CategoryRetrieval).Info(format, args...)
}

// RetrievalDebug logs debug to the retrieval category
func RetrievalDebug(format string, args ...interface{}) {
	Get(CategoryRetrieval).Debug(format, args...)
}

// RetrievalWarn logs warning to the retrieval category
func RetrievalWarn(format string, args ...interface{}) {
	Get(CategoryRetrieval).Warn(format, args...)
}

// Rerank logs to the rerank category
func Rerank(format string, args ...interface{}) {
	Get(CategoryRerank).Info(format, args...)
}

// RerankWarn logs warning to the rerank category
func RerankWarn(format string, args ...interface{}) {
	Get(CategoryRerank).Warn(format, args...)
}

// Intent logs to the intent category
func Intent(format string, args ...interface{}) {
	Get(CategoryIntent).Info(format, args...)
}

// IntentDebug logs debug to the intent category
func IntentDebug(format string, args ...interface{}) {
	Get(CategoryIntent).Debug(format, args...)
}

// Generation logs to the generation category
func Generation(format string, args ...interface{}) {
	Get(CategoryGeneration).Info(format, args...)
}

// GenerationError logs error to the generation category
func GenerationError(format string, args ...interface{}) {
	Get(CategoryGeneration).Error(format, args...)
}

// DMS logs to the dms category
func DMS(format string, args ...interface{}) {
	Get(CategoryDMS).Info(format, args...)
}

// DMSWarn logs warning to the dms category
func DMSWarn(format string, args ...interface{}) {
	Get(CategoryDMS).Warn(format, args...)
}

// DMSError logs error to the dms category
func DMSError(format string, args ...interface{}) {
	Get(CategoryDMS).Error(format, args...)
}

// Breaker logs to the breaker category
func Breaker(format string, args ...interface{}) {
	Get(CategoryBreaker).Info(format, args...)
}

// BreakerWarn logs warning to the breaker category
func BreakerWarn(format string, args ...interface{}) {
	Get(CategoryBreaker).Warn(format, args...)
}

// =============================================================================
// REQUEST ID TRACING - For request-scoped logging
// =============================================================================

// RequestLogger provides request-scoped logging with a correlation ID
type RequestLogger struct {
	logger    *Logger
	requestID string
	fields    map[string]interface{}
}

// WithRequestID creates a request-scoped logger for tracing
func WithRequestID(category Category, requestID string) *RequestLogger {
	return &RequestLogger{
		logger:    Get(category),
		requestID: requestID,
		fields:    make(map[string]interface{}),
	}
}

// WithField adds a field to the request logger
func (r *RequestLogger) WithField(key string, value interface{}) *RequestLogger {
	r.fields[key] = value
	return r
}

func (r *RequestLogger) formatMsg(format string, args ...interface{}) string {
	msg := fmt.Sprintf(format, args...)
	if len(r.fields) > 0 {
		return fmt.Sprintf("[req:%s] %s | %v", r.requestID, msg, r.fields)
	}
	return fmt.Sprintf("[req:%s] %s", r.requestID, msg)
}

func (r *RequestLogger) Debug(format string, args ...interface{}) {
	if r.logger.logger == nil || logLevel > LevelDebug {
		return
	}
	r.logger.logger.Printf("[DEBUG] %s", r.formatMsg(format, args...))
}

func (r *RequestLogger) Info(format string, args ...interface{}) {
	if r.logger.logger == nil || logLevel > LevelInfo {
		return
	}
	r.logger.logger.Printf("[INFO] %s", r.formatMsg(format, args...))
}

func (r *RequestLogger) Warn(format string, args ...interface{}) {
	if r.logger.logger == nil || logLevel > LevelWarn {
		return
	}
	r.logger.logger.Printf("[WARN] %s", r.formatMsg(format, args...))
}

func (r *RequestLogger) Error(format string, args ...interface{}) {
	if r.logger.logger == nil {
		return
	}
	r.logger.logger.Printf("[ERROR] %s", r.formatMsg(format, args...))
}

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
