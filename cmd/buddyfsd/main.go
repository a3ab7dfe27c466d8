package main

import (
	"log"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/rpcarback/buddyfs/internal/clique"
	"github.com/rpcarback/buddyfs/internal/config"
	"github.com/rpcarback/buddyfs/internal/drm"
	"github.com/rpcarback/buddyfs/internal/fsnode"
	"github.com/rpcarback/buddyfs/internal/reactor"
	"github.com/rpcarback/buddyfs/internal/registry"
	"github.com/rpcarback/buddyfs/internal/slice"
	"github.com/rpcarback/buddyfs/internal/wire"
)

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

// minUsefulRateLimit is the per-connection byte/second budget below which a
// peer effectively can't keep up with 4096-byte block transfers at all.
const minUsefulRateLimit = 4096

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "buddyfsd"
	myApp.Usage = "peer-to-peer distributed filesystem node"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "listen, l",
			Value: ":9527",
			Usage: "local TCP listen address",
		},
		cli.StringFlag{
			Name:  "buddydir",
			Value: ".buddyfs",
			Usage: "directory holding this node's local_data snapshot",
		},
		cli.StringSliceFlag{
			Name:  "seed",
			Usage: "alpha clique bootstrap seed address, may be repeated",
		},
		cli.StringFlag{
			Name:   "key",
			Value:  "it's a secret",
			Usage:  "pre-shared secret DRM per-file keys are derived from",
			EnvVar: "BUDDYFS_KEY",
		},
		cli.IntFlag{
			Name:  "ratelimit",
			Value: 1 << 20,
			Usage: "per-connection outgoing byte/second budget, 0 selects the 1 MiB/s default",
		},
		cli.IntFlag{
			Name:  "snapshotinterval",
			Value: 30,
			Usage: "seconds between local_data snapshot saves",
		},
		cli.IntFlag{
			Name:  "requesttimeout",
			Value: 10,
			Usage: "seconds before a pending request registry waiter expires",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.StringFlag{
			Name:  "snmplog",
			Value: "",
			Usage: "collect connection stats to file, aware of Go's time format, like: ./snmp-20060102.log",
		},
		cli.IntFlag{
			Name:  "snmpperiod",
			Value: 60,
			Usage: "stats collection period, in seconds",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "suppress connect/disconnect log lines",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = run
	myApp.Run(os.Args)
}

func run(c *cli.Context) error {
	cfg := config.Default()
	cfg.Listen = c.String("listen")
	cfg.BuddyDir = c.String("buddydir")
	cfg.Seeds = c.StringSlice("seed")
	cfg.Key = c.String("key")
	cfg.RateLimit = c.Int("ratelimit")
	cfg.SnapshotInterval = c.Int("snapshotinterval")
	cfg.RequestTimeout = c.Int("requesttimeout")
	cfg.Log = c.String("log")
	cfg.SnmpLog = c.String("snmplog")
	cfg.SnmpPeriod = c.Int("snmpperiod")
	cfg.Quiet = c.Bool("quiet")

	if c.String("c") != "" {
		if err := config.ParseJSON(cfg, c.String("c")); err != nil {
			log.Printf("%+v\n", err)
			os.Exit(-1)
		}
	}

	if cfg.Log != "" {
		f, err := os.OpenFile(cfg.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Printf("%+v\n", err)
			os.Exit(-1)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	log.Println("version:", VERSION)
	log.Println("listening on:", cfg.Listen)
	log.Println("buddydir:", cfg.BuddyDir)
	log.Println("seeds:", cfg.Seeds)
	log.Println("ratelimit:", cfg.RateLimit)
	log.Println("snapshotinterval:", cfg.SnapshotInterval)
	log.Println("requesttimeout:", cfg.RequestTimeout)
	log.Println("snmplog:", cfg.SnmpLog)
	log.Println("snmpperiod:", cfg.SnmpPeriod)
	log.Println("quiet:", cfg.Quiet)

	if err := os.MkdirAll(cfg.BuddyDir, 0755); err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}

	drmMgr := drm.NewLocalDRM([]byte(cfg.Key))
	reg := registry.New()

	rt := clique.NewRuntime()
	r := reactor.New(rt, cfg.RateLimit)

	var alpha *clique.AlphaClique
	var tree *fsnode.Tree
	isAlpha := func() bool { return alpha != nil && alpha.IsAlpha() }
	newFileClique := func(f *fsnode.File) fsnode.StorageClique {
		return clique.NewFileStorageClique(r, tree, f, drmMgr)
	}

	tree = fsnode.NewTree(nil, newFileClique, drmMgr, isAlpha)

	if err := tree.LoadLocal(cfg.BuddyDir); err != nil {
		log.Println("LoadLocal:", err)
	}

	if cfg.RateLimit > 0 && cfg.RateLimit < minUsefulRateLimit {
		color.Red("ratelimit %d bytes/sec is below the minimum useful for 4096-byte block transfers (%d)", cfg.RateLimit, minUsefulRateLimit)
	}

	seeds := make([]wire.NetAddress, 0, len(cfg.Seeds))
	for _, s := range cfg.Seeds {
		if s == cfg.Listen {
			color.Red("seed %s is this node's own listen address, dropping it", s)
			continue
		}
		addr, err := wire.ParseAddress(s)
		if err != nil {
			log.Println("bad seed address", s, ":", err)
			continue
		}
		seeds = append(seeds, addr)
	}

	alpha = clique.NewAlphaClique(r, reg, tree, r.LocalAddr, seeds)
	alpha.SetRequestTimeout(time.Duration(cfg.RequestTimeout) * time.Second)
	tree.SetResolver(clique.NewResolver(alpha))
	rt.Register(alpha)
	rt.SetReactor(r)

	go reactor.SnmpLogger(r.Stats, cfg.SnmpLog, time.Duration(cfg.SnmpPeriod)*time.Second)

	driver := slice.New(reg, tree, cfg.BuddyDir, time.Second, cfg.SnapshotInterval)
	driver.Start()
	defer driver.Stop()

	if err := r.Listen(cfg.Listen); err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
	defer r.Shutdown()

	alpha.Bootstrap()

	select {}
}
