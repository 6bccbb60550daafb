// Command akexd runs one side of the post-quantum authenticated key
// exchange described by the core library: either the responder (accepts
// one inbound session and exits) or the initiator (dials a peer, runs the
// handshake, and exits). It is designed to be invoked as a short-lived
// subprocess by a calling UI, per the process interface the core
// implements: exit 0 on a successful key exchange, non-zero on any abort.
//
// Usage:
//
//	akexd -role responder -listen :9000 [-registry client_keys.json]
//	akexd -role initiator -peer 203.0.113.5:9000 -user alice_01 [-keyfile client_dilithium_keys.bin]
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/quantumcall/ake-bridge/internal/ake"
	"github.com/quantumcall/ake-bridge/internal/aeconfig"
	"github.com/quantumcall/ake-bridge/internal/akelog"
	"github.com/quantumcall/ake-bridge/internal/keystore"
	"github.com/quantumcall/ake-bridge/internal/registry"
	"github.com/quantumcall/ake-bridge/internal/wire"
)

var (
	// Version is set at build time via ldflags.
	Version = "dev"
)

func main() {
	cfg := parseFlags()

	log := akelog.New(cfg.Debug)

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Error("Error")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal")
		cancel()
	}()

	var err error
	switch cfg.Role {
	case aeconfig.RoleResponder:
		err = runResponder(ctx, cfg, log)
	case aeconfig.RoleInitiator:
		err = runInitiator(ctx, cfg, log)
	}

	if err != nil {
		os.Exit(1)
	}
}

func runResponder(ctx context.Context, cfg *aeconfig.Config, log *logrus.Logger) error {
	reg, err := registry.Open(cfg.RegistryPath)
	if err != nil {
		err = ake.NewStorageError("OPEN_REGISTRY", err)
		log.WithError(err).Error("Error")
		return err
	}

	listener, err := net.Listen("tcp4", cfg.ListenAddr)
	if err != nil {
		log.WithError(err).Error("Error")
		return err
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	log.WithField("addr", cfg.ListenAddr).Info("Waiting")

	netConn, err := listener.Accept()
	if err != nil {
		log.WithError(err).Error("Error")
		return err
	}
	defer netConn.Close()

	conn := wire.NewConn(netConn, cfg.FrameTimeout)

	result, err := ake.RunResponder(conn, reg, log)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "session established with %s\n", result.Username)
	return nil
}

func runInitiator(ctx context.Context, cfg *aeconfig.Config, log *logrus.Logger) error {
	longTerm, err := keystore.LoadOrGenerate(cfg.KeyStorePath)
	if err != nil {
		err = ake.NewStorageError("LOAD_KEYSTORE", err)
		log.WithError(err).Error("Error")
		return err
	}

	dialer := net.Dialer{Timeout: cfg.ConnTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp4", cfg.PeerAddr)
	if err != nil {
		log.WithError(err).Error("Error")
		return err
	}
	defer netConn.Close()

	conn := wire.NewConn(netConn, cfg.FrameTimeout)

	_, err = ake.RunInitiator(conn, cfg.Username, longTerm, log)
	return err
}

func parseFlags() *aeconfig.Config {
	roleStr := flag.String("role", "responder", "endpoint role: responder or initiator")
	listenAddr := flag.String("listen", "", "responder listen address (default :9000)")
	peerAddr := flag.String("peer", "", "initiator dial target, host:port")
	username := flag.String("user", "", "initiator username")
	registryPath := flag.String("registry", "", "responder identity registry file")
	keyStorePath := flag.String("keyfile", "", "initiator long-term key file")
	debug := flag.Bool("debug", false, "enable debug logging")
	showVersion := flag.Bool("version", false, "show version information")
	showHelp := flag.Bool("help", false, "show help message")

	flag.Parse()

	if *showVersion {
		fmt.Printf("akexd %s\n", Version)
		os.Exit(0)
	}
	if *showHelp {
		fmt.Println("akexd - post-quantum authenticated key exchange endpoint")
		fmt.Println()
		fmt.Println("Usage: akexd [flags]")
		fmt.Println()
		flag.PrintDefaults()
		os.Exit(0)
	}

	role := aeconfig.RoleResponder
	if *roleStr == "initiator" {
		role = aeconfig.RoleInitiator
	}

	cfg := aeconfig.DefaultConfig(role)
	if *listenAddr != "" {
		cfg = cfg.WithListenAddr(*listenAddr)
	}
	if *peerAddr != "" {
		cfg = cfg.WithPeerAddr(*peerAddr)
	}
	if *username != "" {
		cfg = cfg.WithUsername(*username)
	}
	if *registryPath != "" {
		cfg.RegistryPath = *registryPath
	}
	if *keyStorePath != "" {
		cfg.KeyStorePath = *keyStorePath
	}
	cfg = cfg.WithDebug(*debug)

	return cfg
}
