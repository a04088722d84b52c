// Command peernode runs a standalone peer session host: it listens for
// inbound connections, dials configured peers, and serves whatever
// capabilities are registered, without any consensus or chain logic
// layered on top.
package main

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/makramibrahim/cpp-ethereum/internal/hostdb"
	"github.com/makramibrahim/cpp-ethereum/p2p"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "path to a TOML config file",
	}
	listenFlag = &cli.StringFlag{
		Name:  "listen",
		Usage: "address to accept inbound connections on",
		Value: "0.0.0.0:30303",
	}
	dialFlag = &cli.StringSliceFlag{
		Name:  "dial",
		Usage: "host:port of a peer to connect to on startup, may be repeated",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "log verbosity (0-5)",
		Value: 3, // legacy verbosity for info, as read by log.FromLegacyLevel
	}
	logFileFlag = &cli.StringFlag{
		Name:  "logfile",
		Usage: "rotate logs to this file instead of stderr",
	}
)

func main() {
	app := &cli.App{
		Name:   "peernode",
		Usage:  "run a peer session host",
		Flags:  []cli.Flag{configFlag, listenFlag, dialFlag, verbosityFlag, logFileFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(c *cli.Context) {
	var handler slog.Handler
	if path := c.String(logFileFlag.Name); path != "" {
		writer := &lumberjack.Logger{Filename: path, MaxSize: 100, MaxBackups: 5}
		handler = log.NewTerminalHandler(writer, false)
	} else {
		handler = log.NewTerminalHandler(os.Stderr, true)
	}
	glogger := log.NewGlogHandler(handler)
	glogger.Verbosity(log.FromLegacyLevel(c.Int(verbosityFlag.Name)))
	log.SetDefault(log.NewLogger(glogger))
}

func run(c *cli.Context) error {
	fileCfg, err := loadConfig(c.String(configFlag.Name))
	if err != nil {
		return err
	}
	if c.IsSet(listenFlag.Name) {
		fileCfg.ListenAddr = c.String(listenFlag.Name)
	}

	setupLogging(c)

	id, err := fileCfg.nodeID()
	if err != nil {
		return err
	}
	if id.IsZero() {
		if _, err := rand.Read(id[:]); err != nil {
			return fmt.Errorf("generating node id: %w", err)
		}
	}

	table := hostdb.New(hostdb.Config{
		ID:              id,
		ClientVersion:   fileCfg.ClientVersion,
		ProtocolVersion: fileCfg.ProtocolVersion,
		ListenPort:      fileCfg.listenPort(),
		LocalAddresses:  fileCfg.localAddresses(),
		LocalNetworking: fileCfg.LocalNetworking,
	})

	listener, err := net.Listen("tcp", fileCfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", fileCfg.ListenAddr, err)
	}
	log.Info("peer session host listening", "addr", fileCfg.ListenAddr, "id", id)

	go func() {
		if err := table.Serve(listener); err != nil {
			log.Error("accept loop stopped", "err", err)
		}
	}()

	for _, target := range c.StringSlice(dialFlag.Name) {
		if err := dialOne(table, target); err != nil {
			log.Warn("initial dial failed", "target", target, "err", err)
		}
	}

	waitForSignal()
	log.Info("shutting down")
	return listener.Close()
}

// dialOne connects to a peer we don't yet have an identity for. The
// session learns the identity from the remote's Hello, so force must
// be set (spec.md invariant 2, §4.5).
func dialOne(table *hostdb.Table, target string) error {
	addr, err := net.ResolveTCPAddr("tcp", target)
	if err != nil {
		return err
	}
	_, err = table.Dial(&p2p.NodeRecord{Address: addr}, true)
	return err
}

func waitForSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
