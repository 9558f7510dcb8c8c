// internal/utils/logger.go
package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"scope-service/internal/config"
)

const defaultLogFile = "./logs/scope-service.log"

// NewLogger builds the process logger from configuration.
// Output is stdout, stderr or a file path rotated by lumberjack.
func NewLogger(cfg *config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	sink, err := logSink(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	core := zapcore.NewCore(logEncoder(cfg.Format), sink, level)
	return zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	), nil
}

func logEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "timestamp"
	ec.MessageKey = "message"
	ec.EncodeCaller = zapcore.ShortCallerEncoder
	ec.EncodeDuration = zapcore.StringDurationEncoder

	if format == "console" {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		ec.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		return zapcore.NewConsoleEncoder(ec)
	}

	ec.EncodeLevel = zapcore.LowercaseLevelEncoder
	ec.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	return zapcore.NewJSONEncoder(ec)
}

func logSink(cfg *config.LoggingConfig) (zapcore.WriteSyncer, error) {
	switch cfg.Output {
	case "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	}

	path := cfg.Output
	if path == "" {
		path = defaultLogFile
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("log directory: %w", err)
	}

	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}), nil
}

// CloseLogger flushes buffered entries. Terminals reject fsync, which is ignored.
func CloseLogger(logger *zap.Logger) error {
	err := logger.Sync()
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
		return nil
	}
	return err
}

// LoggerWithRequestID tags logger with the HTTP request id
func LoggerWithRequestID(logger *zap.Logger, requestID string) *zap.Logger {
	return logger.With(zap.String("request_id", requestID))
}

// SessionLogger carries the identity of one instrument session
type SessionLogger struct {
	*zap.Logger
	sessionID string
	transport string
}

// NewSessionLogger creates a session-specific logger
func NewSessionLogger(baseLogger *zap.Logger, sessionID, transport string) *SessionLogger {
	return &SessionLogger{
		Logger: baseLogger.With(
			zap.String("component", "session"),
			zap.String("session_id", sessionID),
			zap.String("transport", transport),
		),
		sessionID: sessionID,
		transport: transport,
	}
}

// WithInstrument attaches the identified instrument to the logger
func (sl *SessionLogger) WithInstrument(model, serial, firmware string) *SessionLogger {
	return &SessionLogger{
		Logger: sl.Logger.With(
			zap.String("model", model),
			zap.String("serial", serial),
			zap.String("firmware", firmware),
		),
		sessionID: sl.sessionID,
		transport: sl.transport,
	}
}

// LogConnection records open, identify and close of the link
func (sl *SessionLogger) LogConnection(action string, success bool, err error) {
	if err != nil {
		sl.Error("Session connection event",
			zap.String("action", action),
			zap.Bool("success", success),
			zap.Error(err),
		)
		return
	}
	sl.Info("Session connection event",
		zap.String("action", action),
		zap.Bool("success", success),
	)
}

// LogExchange logs a single SCPI command/response pair at debug level
func (sl *SessionLogger) LogExchange(command, response string, duration time.Duration) {
	if ce := sl.Check(zapcore.DebugLevel, "SCPI exchange"); ce != nil {
		ce.Write(
			zap.String("command", command),
			zap.String("response", response),
			zap.Duration("duration", duration),
		)
	}
}

// LogCompatibility logs a model compatibility warning
func (sl *SessionLogger) LogCompatibility(model string, series int, warning string) {
	sl.Warn("Instrument compatibility warning",
		zap.String("model", model),
		zap.Int("series", series),
		zap.String("warning", warning),
	)
}

// OperationLogger times one long running job: a settings sync, a
// deep memory download or a capture.
type OperationLogger struct {
	logger  *zap.Logger
	started time.Time
}

// NewOperationLogger creates an operation-specific logger
func NewOperationLogger(baseLogger *zap.Logger, kind, id string) *OperationLogger {
	return &OperationLogger{
		logger: baseLogger.With(
			zap.String("operation", kind),
			zap.String("operation_id", id),
		),
		started: time.Now(),
	}
}

func (ol *OperationLogger) Start(fields ...zap.Field) {
	ol.logger.Info("Operation started", fields...)
}

func (ol *OperationLogger) Success(fields ...zap.Field) {
	ol.logger.Info("Operation completed",
		append(fields, zap.Duration("duration", time.Since(ol.started)))...)
}

func (ol *OperationLogger) Error(err error, fields ...zap.Field) {
	ol.logger.Error("Operation failed",
		append(fields, zap.Duration("duration", time.Since(ol.started)), zap.Error(err))...)
}

// Progress logs percent complete, clamped to 0..100
func (ol *OperationLogger) Progress(message string, pct float64, fields ...zap.Field) {
	pct = min(max(pct, 0), 100)
	ol.logger.Debug(message,
		append(fields, zap.Float64("progress", pct), zap.Duration("elapsed", time.Since(ol.started)))...)
}

// ServiceLogger is the logger handed to services and handlers
type ServiceLogger struct {
	*zap.Logger
	serviceName string
}

// NewServiceLogger creates a service-specific logger
func NewServiceLogger(baseLogger *zap.Logger, serviceName string) *ServiceLogger {
	return &ServiceLogger{
		Logger:      baseLogger.With(zap.String("service", serviceName)),
		serviceName: serviceName,
	}
}

func (sl *ServiceLogger) LogServiceStart(version string, cfg interface{}) {
	sl.Info("Service starting", zap.String("version", version), zap.Any("config", cfg))
}

func (sl *ServiceLogger) LogServiceStop(reason string) {
	sl.Info("Service stopping", zap.String("reason", reason))
}

// LogAPIRequest logs at warn for 4xx and error for 5xx
func (sl *ServiceLogger) LogAPIRequest(method, path, userAgent, clientIP string, statusCode int, duration time.Duration) {
	level := zapcore.InfoLevel
	switch {
	case statusCode >= 500:
		level = zapcore.ErrorLevel
	case statusCode >= 400:
		level = zapcore.WarnLevel
	}

	if ce := sl.Check(level, "API request"); ce != nil {
		ce.Write(
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status_code", statusCode),
			zap.Duration("duration", duration),
			zap.String("client_ip", clientIP),
			zap.String("user_agent", userAgent),
		)
	}
}

// SecurityLogger records abuse of the HTTP surface
type SecurityLogger struct {
	logger *zap.Logger
}

func NewSecurityLogger(baseLogger *zap.Logger) *SecurityLogger {
	return &SecurityLogger{logger: baseLogger.With(zap.String("component", "security"))}
}

func (sl *SecurityLogger) LogRateLimitViolation(clientIP, endpoint string, limit int, window string) {
	sl.logger.Warn("Rate limit exceeded",
		zap.String("client_ip", clientIP),
		zap.String("endpoint", endpoint),
		zap.Int("limit", limit),
		zap.String("window", window),
	)
}
