package app

import (
	"encoding/json"
	"errors"
	"os"
)

type InitCfg struct{}

type Config struct {
	InitCfgCmd *InitCfg `arg:"subcommand:initcfg" json:"-" help:"initialize client configuration files"`
	Relays     []string `arg:"-r,--relay,separate" json:"relays" help:"bootstrap relay URLs, used when no relay list covers an author (can use flag repeatedly)"`
	Authors    []string `arg:"-a,--author,separate" json:"authors" help:"public keys whose relay lists and events to follow"`
	Groups     []string `arg:"-g,--group,separate" json:"groups" help:"group ids to derive membership and moderation state for"`
	Authority  []string `arg:"-A,--authority,separate" json:"authority" help:"public keys trusted as group authorities (usually the hosting relay keys)"`
	SecKey     string   `arg:"-s,--seckey" json:"seckey" help:"identity key used to answer relay auth challenges"`
	Profile    string   `arg:"-p,--profile" json:"-" default:"aggregatr" help:"profile name to use for storage"`
	EventStore string   `arg:"-e,--eventstore" default:"badger" json:"eventstore" help:"select event store backend [memory,badger]"`
	// EoseTimeout bounds how long fanned-out subscriptions wait for lagging
	// relays before raising the caught-up signal.
	EoseTimeout int    `arg:"--eosetimeout" json:"eose_timeout" default:"10" help:"seconds to wait for lagging relays before the caught-up signal fires"`
	Retention   int    `arg:"--retention" json:"retention" default:"4096" help:"per-group event log retention horizon for moderation replay"`
	MaxProcs    int    `arg:"-m" json:"max_procs" default:"128" help:"maximum number of goroutines to use"`
	LogLevel    string `arg:"--loglevel" default:"info" help:"set log level [off,fatal,error,warn,info,debug,trace] (can also use GODEBUG environment variable)"`
}

func (c *Config) Save(filename string) (err error) {
	if c == nil {
		err = errors.New("cannot save nil client config")
		log.E.Ln(err)
		return
	}
	var b []byte
	if b, err = json.MarshalIndent(c, "", "    "); chk.E(err) {
		return
	}
	if err = os.WriteFile(filename, b, 0600); chk.E(err) {
		return
	}
	return
}

func (c *Config) Load(filename string) (err error) {
	if c == nil {
		err = errors.New("cannot load into nil config")
		chk.E(err)
		return
	}
	var b []byte
	if b, err = os.ReadFile(filename); chk.E(err) {
		return
	}
	if err = json.Unmarshal(b, c); chk.E(err) {
		return
	}
	return
}
