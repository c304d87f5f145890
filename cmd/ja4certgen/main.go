package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/LeeBrotherston/ja4beacon/certgen"
	"github.com/LeeBrotherston/ja4beacon/config"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	fs := pflag.NewFlagSet("ja4certgen", pflag.ContinueOnError)
	outDir := fs.String("out-dir", config.DefaultLocalCertDir, "directory to write server.pem, server.key and ca.pem to")
	hosts := fs.StringSlice("host", nil, "DNS name for the certificate, repeatable (default: the common name)")
	ips := fs.StringSlice("ip", []string{"127.0.0.1"}, "IP address for the certificate, repeatable")
	commonName := fs.String("cn", "localhost", "certificate common name")
	days := fs.Int("days", 365, "validity in days")
	overwrite := fs.Bool("overwrite", false, "replace existing files")

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	logger, err := config.NewLogger(config.EnvLocal, "info", "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "ja4certgen: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if *days <= 0 {
		logger.Fatal("days must be positive", zap.Int("days", *days))
	}

	var addrs []net.IP
	for _, raw := range *ips {
		ip := net.ParseIP(raw)
		if ip == nil {
			logger.Fatal("not an IP address", zap.String("ip", raw))
		}
		addrs = append(addrs, ip)
	}

	bundle, err := certgen.Generate(certgen.Options{
		CommonName: *commonName,
		Hosts:      *hosts,
		IPs:        addrs,
		Validity:   time.Duration(*days) * 24 * time.Hour,
	})
	if err != nil {
		logger.Fatal("generating certificates", zap.Error(err))
	}

	written, err := certgen.WriteFiles(*outDir, bundle, *overwrite)
	if errors.Is(err, certgen.ErrExists) {
		logger.Fatal("refusing to overwrite, pass --overwrite to replace", zap.Error(err))
	}
	if err != nil {
		logger.Fatal("writing certificates", zap.Error(err))
	}

	for _, path := range written {
		logger.Info("wrote", zap.String("path", path))
	}
	logger.Info("trust ca.pem in your browser or OS to avoid certificate warnings",
		zap.String("ca", written[len(written)-1]))
}
