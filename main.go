package main

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/Hubmakerlabs/aggregatr/app"
	"github.com/Hubmakerlabs/aggregatr/pkg/context"
	"github.com/Hubmakerlabs/aggregatr/pkg/interrupt"
	"github.com/Hubmakerlabs/aggregatr/pkg/keys"
	"github.com/Hubmakerlabs/aggregatr/pkg/slog"
	"github.com/alexflint/go-arg"
)

var (
	AppName = "aggregatr"
	Version = "v0.0.1"
)

var args, conf app.Config

func main() {
	var log, chk = slog.New(os.Stderr)
	arg.MustParse(&args)
	log.T.S(args)
	runtime.GOMAXPROCS(args.MaxProcs)
	setLogLevel(args.LogLevel)
	var dataDirBase string
	var err error
	if dataDirBase, err = os.UserHomeDir(); log.E.Chk(err) {
		os.Exit(1)
	}
	dataDir := filepath.Join(dataDirBase, "."+args.Profile)
	log.D.F("using profile directory: %s", dataDir)
	configPath := filepath.Join(dataDir, "config.json")
	if args.InitCfgCmd != nil {
		// generate a client identity key if one wasn't given
		if args.SecKey == "" {
			args.SecKey = keys.GeneratePrivateKey()
		}
		if err = os.MkdirAll(dataDir, 0700); chk.E(err) {
			os.Exit(1)
		}
		if err = args.Save(configPath); chk.E(err) {
			log.E.F("failed to write client configuration: '%s'", err)
			os.Exit(1)
		}
		log.I.F("wrote configuration to %s", configPath)
		return
	}
	if err = conf.Load(configPath); err != nil {
		log.T.F("no configuration at %s, using CLI arguments only", configPath)
	} else {
		// CLI args take precedence, the config file fills the gaps
		if args.SecKey == "" {
			args.SecKey = conf.SecKey
		}
		if len(args.Relays) == 0 {
			args.Relays = append(args.Relays, conf.Relays...)
		}
		if len(args.Authors) == 0 {
			args.Authors = append(args.Authors, conf.Authors...)
		}
		if len(args.Groups) == 0 {
			args.Groups = append(args.Groups, conf.Groups...)
		}
		if len(args.Authority) == 0 {
			args.Authority = append(args.Authority, conf.Authority...)
		}
	}
	if len(args.Relays) == 0 {
		log.E.Ln("no relays configured; use --relay or run initcfg")
		os.Exit(1)
	}
	c, cancel := context.Cancel(context.Bg())
	var a *app.App
	if a, err = app.New(c, &args, dataDir); chk.E(err) {
		os.Exit(1)
	}
	interrupt.AddHandler(func() {
		cancel()
		a.Shutdown()
	})
	a.Run()
	log.I.Ln(AppName, Version, "shutting down")
}

func setLogLevel(level string) {
	switch level {
	case "off":
		slog.SetLogLevel(slog.Off)
	case "fatal":
		slog.SetLogLevel(slog.Fatal)
	case "error":
		slog.SetLogLevel(slog.Error)
	case "warn":
		slog.SetLogLevel(slog.Warn)
	case "debug":
		slog.SetLogLevel(slog.Debug)
	case "trace":
		slog.SetLogLevel(slog.Trace)
	default:
		slog.SetLogLevel(slog.Info)
	}
}
