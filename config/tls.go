package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/LeeBrotherston/ja4beacon/certgen"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"
)

// DefaultLocalCertDir is where ja4certgen writes by default and where local
// mode looks for certificates.
const DefaultLocalCertDir = "certs/local"

// TLSConfig builds the server TLS configuration. Sources are tried in order:
// explicit cert and key, ACME, the Let's Encrypt live directory (prod), the
// local certgen output, and finally a throwaway self-signed certificate.
func (c *Config) TLSConfig(logger *zap.Logger) (*tls.Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tlsConf := &tls.Config{
		MinVersion: tls.VersionTLS12,
		NextProtos: []string{"http/1.1"},
	}

	switch {
	case c.Cert != "":
		cert, err := loadKeyPair("certificate", c.Cert, "key", c.Key)
		if err != nil {
			return nil, err
		}
		tlsConf.Certificates = []tls.Certificate{cert}
		logger.Info("using configured certificate", zap.String("cert", c.Cert))

	case c.Env == EnvProd && c.Autocert:
		manager := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(c.Domain),
			Cache:      autocert.DirCache(c.AutocertCache),
			Email:      c.ACMEEmail,
		}
		tlsConf.GetCertificate = manager.GetCertificate
		tlsConf.NextProtos = append(tlsConf.NextProtos, acme.ALPNProto)
		logger.Info("using ACME certificates", zap.String("domain", c.Domain), zap.String("cache", c.AutocertCache))

	case c.Env == EnvProd:
		dir := filepath.Join(c.LetsEncryptDir, c.Domain)
		cert, err := loadKeyPair(
			"Let's Encrypt certificate", filepath.Join(dir, "fullchain.pem"),
			"Let's Encrypt key", filepath.Join(dir, "privkey.pem"),
		)
		if err != nil {
			return nil, err
		}
		tlsConf.Certificates = []tls.Certificate{cert}
		logger.Info("using Let's Encrypt certificate", zap.String("dir", dir))

	default:
		localDir := c.LocalCertDir
		if localDir == "" {
			localDir = DefaultLocalCertDir
		}
		certPath := filepath.Join(localDir, certgen.ChainFile)
		keyPath := filepath.Join(localDir, certgen.KeyFile)
		if fileExists(certPath) && fileExists(keyPath) {
			cert, err := loadKeyPair("local certificate", certPath, "local key", keyPath)
			if err != nil {
				return nil, err
			}
			tlsConf.Certificates = []tls.Certificate{cert}
			logger.Info("using local certificate", zap.String("cert", certPath))
			break
		}

		logger.Warn("no local certificate found, using a temporary self-signed one; run ja4certgen for a trusted setup",
			zap.String("dir", localDir))
		bundle, err := certgen.Generate(certgen.Options{CommonName: "localhost"})
		if err != nil {
			return nil, fmt.Errorf("generating temporary certificate: %w", err)
		}
		cert, err := bundle.TLSCertificate()
		if err != nil {
			return nil, err
		}
		tlsConf.Certificates = []tls.Certificate{cert}
	}

	return tlsConf, nil
}

func loadKeyPair(certLabel, certPath, keyLabel, keyPath string) (tls.Certificate, error) {
	for _, f := range []struct{ label, path string }{{certLabel, certPath}, {keyLabel, keyPath}} {
		if _, err := os.Stat(f.path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return tls.Certificate{}, fmt.Errorf("%s not found at [%s]", f.label, f.path)
			}
			return tls.Certificate{}, fmt.Errorf("%s at [%s]: %w", f.label, f.path, err)
		}
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("loading [%s] and [%s]: %w", certPath, keyPath, err)
	}
	return cert, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
