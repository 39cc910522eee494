package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/Hubmakerlabs/aggregatr/pkg/context"
	"github.com/Hubmakerlabs/aggregatr/pkg/event"
	"github.com/Hubmakerlabs/aggregatr/pkg/eventstore/memory"
	"github.com/Hubmakerlabs/aggregatr/pkg/ingest"
	"github.com/Hubmakerlabs/aggregatr/pkg/kind"
	"github.com/Hubmakerlabs/aggregatr/pkg/pool"
	"github.com/Hubmakerlabs/aggregatr/pkg/tag"
	"github.com/Hubmakerlabs/aggregatr/pkg/timestamp"
	"github.com/urfave/cli/v2"
)

var generateEvent = &cli.Command{
	Name:  "event",
	Usage: "generates a signed event and optionally publishes it to relays",
	Description: `builds an event from the flags, signs it and prints it as JSON. when relays are given, also publishes it and prints the per-relay outcome.

example:
		blowr event -k 1 -c 'hello world' --sec <key> wss://relay.example.com`,
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "kind",
			Aliases: []string{"k"},
			Usage:   "event kind number",
			Value:   1,
		},
		&cli.StringFlag{
			Name:    "content",
			Aliases: []string{"c"},
			Usage:   "event content",
		},
		&cli.StringSliceFlag{
			Name:    "tag",
			Aliases: []string{"t"},
			Usage:   "takes a tag like -t e=<id>;<extra>, adds it to the event",
		},
		&cli.Int64Flag{
			Name:  "created-at",
			Usage: "unix timestamp to use instead of now",
		},
		&cli.StringFlag{
			Name:        "sec",
			Usage:       "secret key to sign the event, as hex",
			DefaultText: "the key '1'",
			Value:       "0000000000000000000000000000000000000000000000000000000000000001",
		},
	},
	ArgsUsage: "[relay...]",
	Action: func(c *cli.Context) (err error) {
		ev := &event.T{
			Kind:      kind.T(c.Int("kind")),
			Content:   c.String("content"),
			CreatedAt: timestamp.Now(),
		}
		if ts := c.Int64("created-at"); ts != 0 {
			ev.CreatedAt = timestamp.FromUnix(ts)
		}
		for _, t := range c.StringSlice("tag") {
			key, rest, found := strings.Cut(t, "=")
			if !found {
				return fmt.Errorf("invalid --tag '%s', must be key=value", t)
			}
			ev.Tags = append(ev.Tags,
				append(tag.T{key}, strings.Split(rest, ";")...))
		}
		if err = ev.Sign(c.String("sec")); chk.E(err) {
			return
		}
		fmt.Println(ev.String())

		urls := c.Args().Slice()
		if len(urls) == 0 {
			return nil
		}
		if err = validateRelayURLs(urls); err != nil {
			return
		}
		store := &memory.Backend{}
		if err = store.Init(); chk.E(err) {
			return
		}
		ctx, cancel := context.Cancel(context.Bg())
		defer cancel()
		p := pool.New(ctx, ingest.New(store),
			pool.WithBootstrapRelays(urls))
		defer p.Close()
		var res *pool.PublishResult
		if res, err = p.Publish(ctx, ev); chk.E(err) {
			return
		}
		<-res.Done
		for url, outcome := range res.Outcomes() {
			log.I.F("%s: %s", url, outcome)
		}
		if !res.Accepted() {
			return fmt.Errorf("no relay accepted the event")
		}
		return nil
	},
}

var verify = &cli.Command{
	Name:  "verify",
	Usage: "checks the id and signature of an event given as JSON",
	Description: `reads an event from the first argument or stdin and checks its hash and signature.

example:
		blowr req -k 1 -l 1 wss://relay.example.com | blowr verify`,
	Action: func(c *cli.Context) (err error) {
		input := c.Args().First()
		if input == "" {
			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 16*1024), 256*1024)
			if scanner.Scan() {
				input = strings.TrimSpace(scanner.Text())
			}
		}
		if input == "" {
			return fmt.Errorf("no event given")
		}
		ev := &event.T{}
		if err = json.Unmarshal([]byte(input), ev); err != nil {
			return fmt.Errorf("not a valid event: %w", err)
		}
		if !ev.CheckID() {
			return fmt.Errorf("id does not match the canonical form hash")
		}
		var ok bool
		if ok, err = ev.CheckSignature(); !ok {
			return fmt.Errorf("signature is invalid: %v", err)
		}
		log.I.F("%s is valid", ev.ID)
		return nil
	},
}
