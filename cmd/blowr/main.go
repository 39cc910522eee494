package main

import (
	"fmt"
	"net/url"
	"os"

	"github.com/Hubmakerlabs/aggregatr/pkg/slog"
	"github.com/urfave/cli/v2"
)

var log, chk = slog.New(os.Stderr)

var app = &cli.App{
	Name:  "blowr",
	Usage: "command-line tool for poking at relays",
	Commands: []*cli.Command{
		req,
		generateEvent,
		verify,
	},
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:    "silent",
			Usage:   "do not print logs and info messages to stderr",
			Aliases: []string{"s"},
			Action: func(ctx *cli.Context, b bool) error {
				if b {
					slog.SetLogLevel(slog.Off)
				}
				return nil
			},
		},
	},
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func validateRelayURLs(wsurls []string) error {
	for _, wsurl := range wsurls {
		u, err := url.Parse(wsurl)
		if err != nil {
			return fmt.Errorf("invalid relay url '%s': %s", wsurl, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf(
				"relay url must use wss:// or ws:// schemes, got '%s'", wsurl)
		}
		if u.Host == "" {
			return fmt.Errorf("relay url '%s' is missing the hostname", wsurl)
		}
	}
	return nil
}
