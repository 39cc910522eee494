package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Hubmakerlabs/aggregatr/pkg/context"
	"github.com/Hubmakerlabs/aggregatr/pkg/envelopes/reqenvelope"
	"github.com/Hubmakerlabs/aggregatr/pkg/eventid"
	"github.com/Hubmakerlabs/aggregatr/pkg/eventstore/memory"
	"github.com/Hubmakerlabs/aggregatr/pkg/filter"
	"github.com/Hubmakerlabs/aggregatr/pkg/filters"
	"github.com/Hubmakerlabs/aggregatr/pkg/ingest"
	"github.com/Hubmakerlabs/aggregatr/pkg/kind"
	"github.com/Hubmakerlabs/aggregatr/pkg/pool"
	"github.com/Hubmakerlabs/aggregatr/pkg/timestamp"
	"github.com/urfave/cli/v2"
)

const CategoryFilterAttributes = "FILTER ATTRIBUTES"

var req = &cli.Command{
	Name:  "req",
	Usage: "generates encoded REQ messages and optionally uses them to talk to relays",
	Description: `outputs a filter. when a relay is not given, will print the filter, otherwise will connect to the given relays, fan the filter out and print the merged, deduplicated results.

example:
		blowr req -k 1 -l 15 wss://relay.example.com wss://other.example.com`,
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:     "author",
			Aliases:  []string{"a"},
			Usage:    "only accept events from these authors (pubkey as hex)",
			Category: CategoryFilterAttributes,
		},
		&cli.StringSliceFlag{
			Name:     "id",
			Aliases:  []string{"i"},
			Usage:    "only accept events with these ids (hex)",
			Category: CategoryFilterAttributes,
		},
		&cli.IntSliceFlag{
			Name:     "kind",
			Aliases:  []string{"k"},
			Usage:    "only accept events with these kind numbers",
			Category: CategoryFilterAttributes,
		},
		&cli.StringSliceFlag{
			Name:     "tag",
			Aliases:  []string{"t"},
			Usage:    "takes a tag like -t e=<id>, only accept events with these tags",
			Category: CategoryFilterAttributes,
		},
		&cli.StringFlag{
			Name:     "since",
			Usage:    "only accept events newer than this (unix timestamp)",
			Category: CategoryFilterAttributes,
		},
		&cli.StringFlag{
			Name:     "until",
			Usage:    "only accept events older than this (unix timestamp)",
			Category: CategoryFilterAttributes,
		},
		&cli.IntFlag{
			Name:     "limit",
			Aliases:  []string{"l"},
			Usage:    "only accept up to this number of events",
			Category: CategoryFilterAttributes,
		},
		&cli.BoolFlag{
			Name:        "stream",
			Usage:       "keep the subscription open, printing all events as they are returned",
			DefaultText: "false, will close on EOSE",
		},
	},
	ArgsUsage: "[relay...]",
	Action: func(c *cli.Context) (err error) {
		f := &filter.T{}
		for _, a := range c.StringSlice("author") {
			f.Authors = append(f.Authors, a)
		}
		for _, i := range c.StringSlice("id") {
			f.IDs = append(f.IDs, eventid.T(i))
		}
		for _, k := range c.IntSlice("kind") {
			f.Kinds = append(f.Kinds, kind.T(k))
		}
		for _, t := range c.StringSlice("tag") {
			key, value, found := strings.Cut(t, "=")
			if !found {
				return fmt.Errorf("invalid --tag '%s', must be key=value", t)
			}
			if f.Tags == nil {
				f.Tags = make(filter.TagMap)
			}
			f.Tags[key] = append(f.Tags[key], value)
		}
		if s := c.String("since"); s != "" {
			var ts int64
			if ts, err = strconv.ParseInt(s, 10, 64); err != nil {
				return fmt.Errorf("parse --since: %w", err)
			}
			f.Since = timestamp.FromUnix(ts).Ptr()
		}
		if u := c.String("until"); u != "" {
			var ts int64
			if ts, err = strconv.ParseInt(u, 10, 64); err != nil {
				return fmt.Errorf("parse --until: %w", err)
			}
			f.Until = timestamp.FromUnix(ts).Ptr()
		}
		f.Limit = c.Int("limit")

		urls := c.Args().Slice()
		if len(urls) == 0 {
			// no relays, just print the REQ envelope
			var b []byte
			if b, err = (&reqenvelope.T{
				SubscriptionID: "blowr",
				Filters:        filters.T{*f},
			}).MarshalJSON(); chk.E(err) {
				return
			}
			fmt.Println(string(b))
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
		var sub *pool.Subscription
		if sub, err = p.Subscribe(ctx, f, urls...); chk.E(err) {
			return
		}
		defer sub.Close()
		eose := sub.EndOfStoredEvents
		for {
			select {
			case ev := <-sub.Events:
				if ev == nil {
					return nil
				}
				fmt.Println(ev.String())
			case <-eose:
				if !c.Bool("stream") {
					return nil
				}
				eose = nil
			case <-ctx.Done():
				return nil
			}
		}
	},
}
