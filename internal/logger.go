package internal

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "ERROR"
	case LogLevelWarn:
		return "WARN"
	case LogLevelInfo:
		return "INFO"
	case LogLevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LogLevelError:
		return zapcore.ErrorLevel
	case LogLevelWarn:
		return zapcore.WarnLevel
	case LogLevelDebug:
		return zapcore.DebugLevel
	default:
		return zapcore.InfoLevel
	}
}

// SecureLogger provides leveled, structured logging with sensitive data
// redaction. Messages and field values pass through every redactor before
// they reach the zap core.
type SecureLogger struct {
	zl        *zap.Logger
	level     zap.AtomicLevel
	debug     *atomic.Bool
	quiet     *atomic.Bool
	redactors []Redactor
}

// Redactor defines an interface for redacting sensitive information
type Redactor interface {
	Redact(input string) string
}

// TokenRedactor redacts OAuth credentials from strings
type TokenRedactor struct{}

func (r *TokenRedactor) Redact(input string) string {
	patterns := []string{
		"Bearer ",
		"Basic ",
		"access_token=",
		"refresh_token=",
		"client_secret=",
		`"access_token":"`,
		`"refresh_token":"`,
	}

	result := input
	for _, pattern := range patterns {
		result = redactAfter(result, pattern, func(c byte) bool {
			return c == ' ' || c == ';' || c == '&' || c == '"' || c == '\n' || c == '\r'
		})
	}
	return result
}

// URLRedactor redacts sensitive URL parameters. OneDrive download URLs carry
// a tempauth parameter that grants access to the file.
type URLRedactor struct{}

func (r *URLRedactor) Redact(input string) string {
	sensitiveParams := []string{
		"tempauth=",
		"token=",
		"code=",
		"key=",
		"secret=",
		"password=",
		"sig=",
	}

	result := input
	for _, param := range sensitiveParams {
		result = redactAfter(result, param, func(c byte) bool {
			return c == '&' || c == ' ' || c == '"' || c == '\n'
		})
	}
	return result
}

// redactAfter replaces the value following every case-insensitive occurrence
// of pattern, up to the first byte for which stop returns true
func redactAfter(input, pattern string, stop func(byte) bool) string {
	const mask = "[REDACTED]"

	lowerPattern := strings.ToLower(pattern)
	var b strings.Builder
	rest := input
	for {
		index := strings.Index(strings.ToLower(rest), lowerPattern)
		if index == -1 {
			b.WriteString(rest)
			return b.String()
		}
		start := index + len(pattern)
		end := start
		for end < len(rest) && !stop(rest[end]) {
			end++
		}
		b.WriteString(rest[:start])
		if end > start && rest[start:end] != mask {
			b.WriteString(mask)
		} else {
			b.WriteString(rest[start:end])
		}
		rest = rest[end:]
	}
}

// NewSecureLogger creates a new secure logger writing console-encoded
// entries to output
func NewSecureLogger(output io.Writer, level LogLevel, debug, quiet bool) *SecureLogger {
	if quiet {
		level = LogLevelError
	}
	atomicLevel := zap.NewAtomicLevelAt(level.zapLevel())

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		MessageKey:     "msg",
		CallerKey:      "",
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var opts []zap.Option
	if debug {
		// File and line of the caller, skipping the SecureLogger frame
		encoderConfig.CallerKey = "caller"
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(output),
		atomicLevel,
	)

	sl := &SecureLogger{
		zl:    zap.New(core, opts...),
		level: atomicLevel,
		debug: &atomic.Bool{},
		quiet: &atomic.Bool{},
		redactors: []Redactor{
			&TokenRedactor{},
			&URLRedactor{},
		},
	}
	sl.debug.Store(debug)
	sl.quiet.Store(quiet)

	return sl
}

// NewDefaultLogger creates a logger with default settings
func NewDefaultLogger(debug, quiet bool) *SecureLogger {
	level := LogLevelInfo
	if debug {
		level = LogLevelDebug
	}

	return NewSecureLogger(os.Stderr, level, debug, quiet)
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() *SecureLogger {
	return NewSecureLogger(io.Discard, LogLevelError, false, true)
}

// redactSensitiveData applies all redactors to the input string
func (sl *SecureLogger) redactSensitiveData(input string) string {
	result := input
	for _, redactor := range sl.redactors {
		result = redactor.Redact(result)
	}
	return result
}

// shouldLog determines if a message should be logged based on level
func (sl *SecureLogger) shouldLog(level LogLevel) bool {
	if sl.quiet.Load() && level > LogLevelError {
		return false
	}
	return sl.level.Enabled(level.zapLevel())
}

// Error logs an error message
func (sl *SecureLogger) Error(format string, args ...interface{}) {
	if !sl.shouldLog(LogLevelError) {
		return
	}
	sl.zl.Error(sl.redactSensitiveData(fmt.Sprintf(format, args...)))
}

// Warn logs a warning message
func (sl *SecureLogger) Warn(format string, args ...interface{}) {
	if !sl.shouldLog(LogLevelWarn) {
		return
	}
	sl.zl.Warn(sl.redactSensitiveData(fmt.Sprintf(format, args...)))
}

// Info logs an info message
func (sl *SecureLogger) Info(format string, args ...interface{}) {
	if !sl.shouldLog(LogLevelInfo) {
		return
	}
	sl.zl.Info(sl.redactSensitiveData(fmt.Sprintf(format, args...)))
}

// Debug logs a debug message
func (sl *SecureLogger) Debug(format string, args ...interface{}) {
	if !sl.shouldLog(LogLevelDebug) {
		return
	}
	sl.zl.Debug(sl.redactSensitiveData(fmt.Sprintf(format, args...)))
}

// With returns a child logger that attaches the given key/value pairs to
// every entry. Values under sensitive keys are replaced entirely.
func (sl *SecureLogger) With(keysAndValues ...interface{}) *SecureLogger {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		value := keysAndValues[i+1]

		switch {
		case isSensitiveKey(key):
			fields = append(fields, zap.String(key, "[REDACTED]"))
		case isError(value):
			fields = append(fields, zap.String(key, sl.redactSensitiveData(value.(error).Error())))
		default:
			if s, ok := value.(string); ok {
				fields = append(fields, zap.String(key, sl.redactSensitiveData(s)))
			} else {
				fields = append(fields, zap.Any(key, value))
			}
		}
	}

	child := *sl
	child.zl = sl.zl.With(fields...)
	return &child
}

func isError(v interface{}) bool {
	_, ok := v.(error)
	return ok
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range []string{"token", "secret", "password", "authorization", "cookie"} {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// LogHTTPRequest logs an HTTP request with sensitive data redacted
func (sl *SecureLogger) LogHTTPRequest(req *http.Request) {
	if !sl.shouldLog(LogLevelDebug) {
		return
	}

	sanitizedHeaders := make(map[string]string)
	for name, values := range req.Header {
		if sl.isSensitiveHeader(name) {
			sanitizedHeaders[name] = "[REDACTED]"
		} else {
			sanitizedHeaders[name] = strings.Join(values, ", ")
		}
	}

	url := sl.redactSensitiveData(req.URL.String())

	sl.Debug("HTTP Request: %s %s Headers: %v", req.Method, url, sanitizedHeaders)
}

// LogHTTPResponse logs an HTTP response with sensitive data redacted
func (sl *SecureLogger) LogHTTPResponse(resp *http.Response) {
	if !sl.shouldLog(LogLevelDebug) {
		return
	}

	sanitizedHeaders := make(map[string]string)
	for name, values := range resp.Header {
		if sl.isSensitiveHeader(name) {
			sanitizedHeaders[name] = "[REDACTED]"
		} else {
			sanitizedHeaders[name] = strings.Join(values, ", ")
		}
	}

	sl.Debug("HTTP Response: %d Headers: %v", resp.StatusCode, sanitizedHeaders)
}

// isSensitiveHeader checks if a header contains sensitive information.
// Location is included because the backend answers download-URL requests
// with a redirect to a pre-authenticated URL.
func (sl *SecureLogger) isSensitiveHeader(name string) bool {
	sensitiveHeaders := []string{
		"authorization",
		"cookie",
		"set-cookie",
		"x-api-key",
		"location",
		"token",
	}

	lowerName := strings.ToLower(name)
	for _, sensitive := range sensitiveHeaders {
		if strings.Contains(lowerName, sensitive) {
			return true
		}
	}
	return false
}

// SetLevel sets the logging level
func (sl *SecureLogger) SetLevel(level LogLevel) {
	sl.level.SetLevel(level.zapLevel())
}

// SetDebug enables or disables debug mode
func (sl *SecureLogger) SetDebug(debug bool) {
	sl.debug.Store(debug)
	if debug {
		sl.level.SetLevel(zapcore.DebugLevel)
	}
}

// SetQuiet enables or disables quiet mode
func (sl *SecureLogger) SetQuiet(quiet bool) {
	sl.quiet.Store(quiet)
	if quiet {
		sl.level.SetLevel(zapcore.ErrorLevel)
	}
}

// AddRedactor adds a custom redactor
func (sl *SecureLogger) AddRedactor(redactor Redactor) {
	sl.redactors = append(sl.redactors, redactor)
}

// Sync flushes buffered entries
func (sl *SecureLogger) Sync() error {
	return sl.zl.Sync()
}
