package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/LeeBrotherston/ja4beacon/config"
	"github.com/LeeBrotherston/ja4beacon/replay"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	fs := pflag.NewFlagSet("ja4pcap", pflag.ContinueOnError)
	file := fs.StringP("file", "f", "", "pcap or pcapng file, - for stdin")
	port := fs.Uint16P("port", "p", 0, "only look at connections to this server port")
	logLevel := fs.String("log-level", "warn", "debug, info, warn or error")

	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	if *file == "" {
		fmt.Fprintln(os.Stderr, "ja4pcap: --file is required")
		fs.Usage()
		os.Exit(2)
	}

	logger, err := config.NewLogger(config.EnvLocal, *logLevel, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "ja4pcap: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	var input io.Reader = os.Stdin
	if *file != "-" {
		f, err := os.Open(*file)
		if err != nil {
			logger.Fatal("opening capture", zap.Error(err))
		}
		defer f.Close()
		input = f
	}

	out := json.NewEncoder(os.Stdout)
	stats, err := replay.Read(input, replay.Options{Port: *port, Logger: logger}, func(r replay.Result) {
		if err := out.Encode(r); err != nil {
			logger.Error("writing result", zap.Error(err))
		}
	})
	if err != nil {
		logger.Error("reading capture", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("done",
		zap.Int("packets", stats.Packets),
		zap.Int("streams", stats.Streams),
		zap.Int("hellos", stats.Hellos),
	)
}
