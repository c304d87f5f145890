// Package certgen makes a throwaway local CA and a server certificate signed
// by it, for running the beacon on a workstation.
package certgen

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	ChainFile = "server.pem"
	KeyFile   = "server.key"
	CAFile    = "ca.pem"
)

// ErrExists is returned by WriteFiles when it would overwrite something.
var ErrExists = errors.New("certificate file already exists")

type Options struct {
	CommonName string
	Hosts      []string
	IPs        []net.IP
	Validity   time.Duration
}

// Bundle holds PEM encoded output.
type Bundle struct {
	CA   []byte
	Leaf []byte
	Key  []byte
}

// Chain is the leaf followed by the CA, the way servers hand it out.
func (b *Bundle) Chain() []byte {
	chain := make([]byte, 0, len(b.Leaf)+len(b.CA))
	chain = append(chain, b.Leaf...)
	return append(chain, b.CA...)
}

func (b *Bundle) TLSCertificate() (tls.Certificate, error) {
	return tls.X509KeyPair(b.Chain(), b.Key)
}

// Generate creates a fresh P-256 CA and a leaf for opts. Hosts defaults to
// the common name and IPs to 127.0.0.1.
func Generate(opts Options) (*Bundle, error) {
	if opts.CommonName == "" {
		opts.CommonName = "localhost"
	}
	if len(opts.Hosts) == 0 {
		opts.Hosts = []string{opts.CommonName}
	}
	if len(opts.IPs) == 0 {
		opts.IPs = []net.IP{net.IPv4(127, 0, 0, 1)}
	}
	if opts.Validity <= 0 {
		opts.Validity = 365 * 24 * time.Hour
	}
	notBefore := time.Now().Add(-time.Hour)
	notAfter := notBefore.Add(opts.Validity)

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating CA key: %w", err)
	}
	caSerial, err := serialNumber()
	if err != nil {
		return nil, err
	}
	caTemplate := &x509.Certificate{
		SerialNumber: caSerial,
		Subject: pkix.Name{
			CommonName:   "ja4beacon local CA",
			Organization: []string{"ja4beacon"},
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("signing CA: %w", err)
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		return nil, err
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating server key: %w", err)
	}
	leafSerial, err := serialNumber()
	if err != nil {
		return nil, err
	}
	leafTemplate := &x509.Certificate{
		SerialNumber: leafSerial,
		Subject: pkix.Name{
			CommonName:   opts.CommonName,
			Organization: []string{"ja4beacon"},
		},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              opts.Hosts,
		IPAddresses:           opts.IPs,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, caCert, &leafKey.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("signing server certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(leafKey)
	if err != nil {
		return nil, err
	}

	return &Bundle{
		CA:   pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caDER}),
		Leaf: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: leafDER}),
		Key:  pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	}, nil
}

func serialNumber() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generating serial: %w", err)
	}
	return serial, nil
}

// WriteFiles stores the bundle as server.pem, server.key and ca.pem in dir,
// creating dir if needed. It returns the written paths.
func WriteFiles(dir string, b *Bundle, overwrite bool) ([]string, error) {
	files := []struct {
		name string
		data []byte
		mode os.FileMode
	}{
		{ChainFile, b.Chain(), 0o644},
		{KeyFile, b.Key, 0o600},
		{CAFile, b.CA, 0o644},
	}

	if !overwrite {
		for _, f := range files {
			path := filepath.Join(dir, f.name)
			if _, err := os.Stat(path); err == nil {
				return nil, fmt.Errorf("%w: [%s]", ErrExists, path)
			}
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating [%s]: %w", dir, err)
	}

	var written []string
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := os.WriteFile(path, f.data, f.mode); err != nil {
			return written, fmt.Errorf("writing [%s]: %w", path, err)
		}
		written = append(written, path)
	}
	return written, nil
}
