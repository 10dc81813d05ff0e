package embeddedmqtt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mikey-austin/lms_bridge/internal/adapters/mqttserver"
)

// Config configures the embedded MQTT broker.
type Config struct {
	Listen         string
	AllowAnonymous bool
	Username       string
	Password       string
	TLS            mqttserver.TLSFiles
	// TopicBase restricts authenticated users to <TopicBase>/#.
	TopicBase string
}

// Module runs an embedded MQTT broker for the MQTT presentation layer.
type Module struct {
	log    *zap.Logger
	server *mqtt.Server
	config Config
	done   chan struct{}
	once   sync.Once
}

// NewModule creates a new embedded broker module.
func NewModule(log *zap.Logger, cfg Config) (*Module, error) {
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = "127.0.0.1:1883"
	}
	if log == nil {
		log = zap.NewNop()
	}

	server, err := newServer(log, cfg)
	if err != nil {
		return nil, err
	}
	return &Module{log: log, server: server, config: cfg, done: make(chan struct{})}, nil
}

// TLSEnabled reports whether the listener serves TLS.
func (m *Module) TLSEnabled() bool {
	return m.config.TLS.Enabled()
}

// URL returns the broker URL clients should connect to.
func (m *Module) URL() string {
	return BrokerURL(m.config.Listen, m.TLSEnabled())
}

// Start binds the listener and serves until ctx is done. Bind failures are
// returned before serving begins.
func (m *Module) Start(ctx context.Context) error {
	tlsConfig, err := m.config.TLS.ServerConfig()
	if err != nil {
		return fmt.Errorf("embedded mqtt tls: %w", err)
	}
	listenerConfig := listeners.Config{ID: "tcp-embedded", Address: m.config.Listen, TLSConfig: tlsConfig}

	listener := listeners.NewTCP(listenerConfig)
	if err := m.server.AddListener(listener); err != nil {
		return fmt.Errorf("listen %s: %w", m.config.Listen, err)
	}

	go func() {
		if err := m.server.Serve(); err != nil {
			m.log.Error("embedded mqtt serve", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		m.Close()
	}()
	m.log.Info("embedded mqtt listening", zap.String("url", m.URL()))
	return nil
}

// Close stops the broker. It is safe to call more than once.
func (m *Module) Close() {
	m.once.Do(func() {
		close(m.done)
		if err := m.server.Close(); err != nil {
			m.log.Warn("embedded mqtt close", zap.Error(err))
		}
	})
}

// Done is closed once Close has been called.
func (m *Module) Done() <-chan struct{} {
	return m.done
}

func newServer(log *zap.Logger, cfg Config) (*mqtt.Server, error) {
	options := &mqtt.Options{InlineClient: true, Logger: newSlogLogger(log)}
	server := mqtt.New(options)

	switch {
	case cfg.AllowAnonymous:
		if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
			return nil, err
		}
	case cfg.Username != "":
		filter := "#"
		if base := strings.TrimSpace(cfg.TopicBase); base != "" {
			filter = base + "/#"
		}
		ledger := &auth.Ledger{
			Auth: auth.AuthRules{{Username: auth.RString(cfg.Username), Password: auth.RString(cfg.Password), Allow: true}},
			ACL:  auth.ACLRules{{Username: auth.RString(cfg.Username), Filters: auth.Filters{auth.RString(filter): auth.ReadWrite}}},
		}
		if err := server.AddHook(new(auth.Hook), &auth.Options{Ledger: ledger}); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("embedded mqtt requires allow_anonymous or username")
	}

	return server, nil
}

func newSlogLogger(logger *zap.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return slog.New(&zapSlogHandler{logger: logger})
}

// zapSlogHandler feeds the broker's slog output into zap. Groups become
// dotted key prefixes.
type zapSlogHandler struct {
	logger *zap.Logger
	fields []zap.Field
	group  string
}

func (h *zapSlogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.Core().Enabled(zapLevel(level))
}

func zapLevel(level slog.Level) zapcore.Level {
	switch {
	case level >= slog.LevelError:
		return zapcore.ErrorLevel
	case level >= slog.LevelWarn:
		return zapcore.WarnLevel
	case level >= slog.LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

func (h *zapSlogHandler) Handle(_ context.Context, record slog.Record) error {
	fields := make([]zap.Field, 0, len(h.fields)+record.NumAttrs())
	fields = append(fields, h.fields...)
	closed := false
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == "error" && isConnectionClose(attr.Value) {
			closed = true
		}
		fields = append(fields, h.field(attr))
		return true
	})
	// Clients hanging up show up as read errors.
	if closed {
		h.logger.Debug("embedded mqtt connection closed", fields...)
		return nil
	}
	if ce := h.logger.Check(zapLevel(record.Level), record.Message); ce != nil {
		ce.Write(fields...)
	}
	return nil
}

func isConnectionClose(v slog.Value) bool {
	switch v.Kind() {
	case slog.KindString:
		msg := v.String()
		return msg == "EOF" || strings.HasSuffix(msg, ": EOF")
	case slog.KindAny:
		err, ok := v.Any().(error)
		return ok && errors.Is(err, io.EOF)
	}
	return false
}

func (h *zapSlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &zapSlogHandler{logger: h.logger, group: h.group}
	next.fields = make([]zap.Field, 0, len(h.fields)+len(attrs))
	next.fields = append(next.fields, h.fields...)
	for _, attr := range attrs {
		next.fields = append(next.fields, h.field(attr))
	}
	return next
}

func (h *zapSlogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &zapSlogHandler{logger: h.logger, fields: h.fields, group: h.key(name)}
}

func (h *zapSlogHandler) key(name string) string {
	if h.group == "" {
		return name
	}
	return h.group + "." + name
}

func (h *zapSlogHandler) field(attr slog.Attr) zap.Field {
	key := h.key(attr.Key)
	v := attr.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return zap.String(key, v.String())
	case slog.KindInt64:
		return zap.Int64(key, v.Int64())
	case slog.KindUint64:
		return zap.Uint64(key, v.Uint64())
	case slog.KindFloat64:
		return zap.Float64(key, v.Float64())
	case slog.KindBool:
		return zap.Bool(key, v.Bool())
	case slog.KindDuration:
		return zap.Duration(key, v.Duration())
	case slog.KindTime:
		return zap.Time(key, v.Time())
	default:
		if err, ok := v.Any().(error); ok {
			return zap.NamedError(key, err)
		}
		return zap.Any(key, v.Any())
	}
}

// BrokerURL returns the broker URL for a listen address.
func BrokerURL(listen string, tlsEnabled bool) string {
	scheme := "mqtt"
	if tlsEnabled {
		scheme = "mqtts"
	}
	return fmt.Sprintf("%s://%s", scheme, listen)
}
