package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"gopkg.in/yaml.v3"

	"wpan-sniffer/internal/addrbook"
	"wpan-sniffer/internal/capture"
	"wpan-sniffer/internal/filter"
	"wpan-sniffer/internal/mac"
	"wpan-sniffer/internal/mqtt"
	"wpan-sniffer/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	Capture struct {
		Pcap   string `yaml:"pcap"`
		Serial struct {
			Port string `yaml:"port"`
			Baud int    `yaml:"baud"`
		} `yaml:"serial"`
	} `yaml:"capture"`
	FCS struct {
		CC24xx       bool `yaml:"cc24xx"`
		RequireValid bool `yaml:"require_valid"`
	} `yaml:"fcs"`
	Security struct {
		Key            string `yaml:"key"`
		Suite2003      string `yaml:"suite_2003"`
		ExtendAuth2003 bool   `yaml:"extend_auth_2003"`
	} `yaml:"security"`
	Addresses []struct {
		Short    uint16 `yaml:"short"`
		Pan      uint16 `yaml:"pan"`
		Extended string `yaml:"extended"`
	} `yaml:"addresses"`
	Addrbook struct {
		Path string `yaml:"path"`
	} `yaml:"addrbook"`
	Filter struct {
		Script string `yaml:"script"`
	} `yaml:"filter"`
	MQTT struct {
		Enabled     bool   `yaml:"enabled"`
		Broker      string `yaml:"broker"`
		Username    string `yaml:"username"`
		Password    string `yaml:"password"`
		TopicPrefix string `yaml:"topic_prefix"`
	} `yaml:"mqtt"`
	Web struct {
		Listen         string   `yaml:"listen"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func (c *Config) validate() error {
	if c.Capture.Pcap == "" && c.Capture.Serial.Port == "" {
		return fmt.Errorf("capture.pcap or capture.serial.port is required")
	}
	if c.Capture.Pcap != "" && c.Capture.Serial.Port != "" {
		return fmt.Errorf("capture.pcap and capture.serial.port are mutually exclusive")
	}
	if c.Security.Key != "" && len(c.Security.Key) != 32 {
		return fmt.Errorf("security.key must be 32 hex characters, got %d", len(c.Security.Key))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("wpan-sniffer starting", "version", version)

	opts, err := decoderOptions(cfg)
	if err != nil {
		logger.Error("decoder options", "err", err)
		os.Exit(1)
	}

	// Address book: static seeds first, then the saved snapshot.
	book := addrbook.New()
	for _, a := range cfg.Addresses {
		addr64, err := parseExtended(a.Extended)
		if err != nil {
			logger.Error("parse address", "extended", a.Extended, "err", err)
			os.Exit(1)
		}
		book.Seed(a.Pan, a.Short, addr64)
	}

	var store *addrbook.Store
	if cfg.Addrbook.Path != "" {
		store, err = addrbook.OpenStore(cfg.Addrbook.Path)
		if err != nil {
			logger.Error("open addrbook store", "err", err)
			os.Exit(1)
		}
		defer store.Close()
		if err := store.Load(book); err != nil {
			logger.Error("load addrbook", "err", err)
			os.Exit(1)
		}
		logger.Info("address book loaded", "path", cfg.Addrbook.Path, "entries", book.Len())
	}

	source, err := openSource(cfg, logger)
	if err != nil {
		logger.Error("open capture source", "err", err)
		os.Exit(1)
	}
	defer source.Close()

	decoder := mac.NewDecoder(opts, book, logger)

	var frameFilter capture.Filter
	if cfg.Filter.Script != "" {
		f, err := filter.NewFromFile(cfg.Filter.Script, logger)
		if err != nil {
			logger.Error("load filter script", "err", err)
			os.Exit(1)
		}
		defer f.Close()
		frameFilter = f
	}

	var sinks []capture.Sink

	if cfg.Web.Listen != "" {
		webServer := web.NewServer(logger, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
		webServer.Start(cfg.Web.Listen)
		defer webServer.Stop()
		sinks = append(sinks, webServer)
	}

	if cfg.MQTT.Enabled {
		pub, err := mqtt.NewPublisher(mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
		}, logger)
		if err != nil {
			logger.Error("connect mqtt", "err", err)
			os.Exit(1)
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}

	// Data payloads fall through to a logging handler; per-PAN
	// subscribers would be registered here.
	registry := capture.NewRegistry()
	registry.SetFallback(func(rec *capture.Record) bool {
		logger.Debug("data payload",
			"frame", rec.Num,
			"src_pan", fmt.Sprintf("0x%04x", rec.Result.Frame.SrcPAN),
			"len", len(rec.Result.Payload))
		return true
	})

	pipeline, err := capture.NewPipeline(capture.Config{
		Source:          source,
		Decoder:         decoder,
		Registry:        registry,
		Filter:          frameFilter,
		Sinks:           sinks,
		RequireValidFCS: cfg.FCS.RequireValid,
		Logger:          logger,
	})
	if err != nil {
		logger.Error("build pipeline", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := pipeline.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("capture", "err", err)
	}
	logger.Info("capture finished", "frames", pipeline.Frames())

	if store != nil {
		if err := store.Save(book); err != nil {
			logger.Error("save addrbook", "err", err)
		} else {
			logger.Info("address book saved", "entries", book.Len())
		}
	}

	logger.Info("goodbye")
}

func openSource(cfg *Config, logger *slog.Logger) (capture.Source, error) {
	if cfg.Capture.Pcap != "" {
		logger.Info("reading pcap", "path", cfg.Capture.Pcap)
		return capture.OpenPcap(cfg.Capture.Pcap)
	}
	logger.Info("opening serial sniffer", "port", cfg.Capture.Serial.Port, "baud", cfg.Capture.Serial.Baud)
	return capture.OpenSerial(cfg.Capture.Serial.Port, cfg.Capture.Serial.Baud)
}

func decoderOptions(cfg *Config) (mac.Options, error) {
	opts := mac.Options{
		CC24xxFCS:      cfg.FCS.CC24xx,
		ExtendAuth2003: cfg.Security.ExtendAuth2003,
	}

	if cfg.Security.Key != "" {
		key, err := hex.DecodeString(cfg.Security.Key)
		if err != nil {
			return opts, fmt.Errorf("parse security.key: %w", err)
		}
		opts.Key = key
	}

	switch cfg.Security.Suite2003 {
	case "", "AES-CCM-64":
		opts.Suite2003 = mac.LevelEncMIC64
	case "AES-CCM-128":
		opts.Suite2003 = mac.LevelEncMIC128
	case "AES-CCM-32":
		opts.Suite2003 = mac.LevelEncMIC32
	default:
		return opts, fmt.Errorf("unknown security.suite_2003 %q", cfg.Security.Suite2003)
	}
	return opts, nil
}

// parseExtended reads a 64-bit address written as eight colon-separated
// hex bytes, e.g. "00:12:4b:00:01:02:03:04".
func parseExtended(s string) (uint64, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 8 {
		return 0, fmt.Errorf("want 8 colon-separated bytes, got %d", len(parts))
	}
	var out uint64
	for _, p := range parts {
		b, err := hex.DecodeString(p)
		if err != nil || len(b) != 1 {
			return 0, fmt.Errorf("bad byte %q", p)
		}
		out = out<<8 | uint64(b[0])
	}
	return out, nil
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Capture.Serial.Baud == 0 {
		cfg.Capture.Serial.Baud = 921600
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "wpan-sniffer"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
