// Package config loads the ja4server settings from flags, JA4_ environment
// variables and an optional config file, and resolves the TLS certificate.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

const (
	EnvLocal = "local"
	EnvProd  = "prod"

	envPrefix = "JA4"
)

type Config struct {
	Host             string
	Port             int
	Env              string
	Cert             string
	Key              string
	Domain           string
	LetsEncryptDir   string
	TTL              time.Duration
	MaxContentLength int64
	Username         string
	Password         string
	Autocert         bool
	AutocertCache    string
	ACMEEmail        string
	LogLevel         string
	LogFile          string

	// LocalCertDir overrides DefaultLocalCertDir in local mode.
	LocalCertDir string
}

// Addr is the listen address, always IPv4.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AuthEnabled reports whether /api needs basic auth.
func (c *Config) AuthEnabled() bool {
	return c.Username != ""
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("host", "0.0.0.0", "IPv4 address to listen on")
	fs.Int("port", 8443, "TCP port to listen on")
	fs.String("env", EnvLocal, "environment, local or prod")
	fs.String("cert", "", "PEM certificate chain")
	fs.String("key", "", "PEM private key")
	fs.String("domain", "", "public domain name, required in prod")
	fs.String("lets-encrypt-dir", "/etc/letsencrypt/live", "Let's Encrypt live directory")
	fs.Int64("ttl-seconds", 86400, "how long fingerprints are kept, 0 keeps them forever")
	fs.Int64("max-content-length", 1<<20, "largest accepted request body in bytes")
	fs.String("userpass", "", "user:pass protecting /api")
	fs.Bool("autocert", false, "fetch certificates from Let's Encrypt with ACME")
	fs.String("autocert-cache", "certs/autocert", "ACME certificate cache directory")
	fs.String("acme-email", "", "contact address for the ACME account")
	fs.String("log-level", "info", "debug, info, warn or error")
	fs.String("log-file", "", "write logs to this file with rotation instead of stderr")
	fs.String("config", "", "optional YAML, JSON or TOML config file")
	return fs
}

// Load parses args (without the program name). Flags win over JA4_
// environment variables, which win over the config file. pflag.ErrHelp is
// returned untouched when help was asked for.
func Load(name string, args []string) (*Config, error) {
	fs := newFlagSet(name)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file [%s]: %w", path, err)
		}
	}

	cfg := &Config{
		Host:             strings.TrimSpace(v.GetString("host")),
		Port:             v.GetInt("port"),
		Env:              strings.ToLower(strings.TrimSpace(v.GetString("env"))),
		Cert:             v.GetString("cert"),
		Key:              v.GetString("key"),
		Domain:           strings.TrimSpace(v.GetString("domain")),
		LetsEncryptDir:   v.GetString("lets-encrypt-dir"),
		TTL:              time.Duration(v.GetInt64("ttl-seconds")) * time.Second,
		MaxContentLength: v.GetInt64("max-content-length"),
		Autocert:         v.GetBool("autocert"),
		AutocertCache:    v.GetString("autocert-cache"),
		ACMEEmail:        v.GetString("acme-email"),
		LogLevel:         v.GetString("log-level"),
		LogFile:          v.GetString("log-file"),
	}

	if userpass := v.GetString("userpass"); userpass != "" {
		user, pass, ok := strings.Cut(userpass, ":")
		if !ok || user == "" {
			return nil, fmt.Errorf("%w: userpass must look like user:pass", ErrInvalidConfig)
		}
		cfg.Username, cfg.Password = user, pass
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port [%d] out of range", ErrInvalidConfig, c.Port)
	}
	if ip := net.ParseIP(c.Host); ip == nil || ip.To4() == nil {
		return fmt.Errorf("%w: host [%s] is not an IPv4 address", ErrInvalidConfig, c.Host)
	}
	if c.Env != EnvLocal && c.Env != EnvProd {
		return fmt.Errorf("%w: env [%s] must be %s or %s", ErrInvalidConfig, c.Env, EnvLocal, EnvProd)
	}
	if (c.Cert == "") != (c.Key == "") {
		return fmt.Errorf("%w: cert and key must be given together", ErrInvalidConfig)
	}
	if c.Env == EnvProd && c.Domain == "" && c.Cert == "" {
		return fmt.Errorf("%w: prod needs a domain or a cert and key", ErrInvalidConfig)
	}
	if c.Autocert && (c.Env != EnvProd || c.Domain == "") {
		return fmt.Errorf("%w: autocert needs env prod and a domain", ErrInvalidConfig)
	}
	if c.TTL < 0 {
		return fmt.Errorf("%w: ttl-seconds must not be negative", ErrInvalidConfig)
	}
	if c.MaxContentLength <= 0 {
		return fmt.Errorf("%w: max-content-length must be positive", ErrInvalidConfig)
	}
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log-level [%s]", ErrInvalidConfig, c.LogLevel)
	}
	return nil
}

const (
	logMaxSizeMB  = 100
	logMaxBackups = 5
	logMaxAgeDays = 28
)

// NewLogger builds a JSON logger for prod and a console logger otherwise.
// With a file name, output goes to that file and is rotated by size.
func NewLogger(env, level, file string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("%w: log-level [%s]", ErrInvalidConfig, level)
	}
	zc := zap.NewDevelopmentConfig()
	if env == EnvProd {
		zc = zap.NewProductionConfig()
	}
	zc.Level = lvl
	if file == "" {
		return zc.Build()
	}

	encoder := zapcore.NewConsoleEncoder(zc.EncoderConfig)
	if zc.Encoding == "json" {
		encoder = zapcore.NewJSONEncoder(zc.EncoderConfig)
	}
	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   file,
		MaxSize:    logMaxSizeMB,
		MaxBackups: logMaxBackups,
		MaxAge:     logMaxAgeDays,
		Compress:   true,
	})
	return zap.New(zapcore.NewCore(encoder, sink, lvl), zap.AddCaller()), nil
}
