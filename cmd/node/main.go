package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"

	"Strata/internal/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point with error handling.
func run(args []string) error {
	cfg, err := parseFlags(args)
	if err != nil {
		return fmt.Errorf("load config:\n%w", err)
	}

	logger.Init(cfg.Node.LogLevel)

	cfg.PrivateKey, err = loadOrGenerateKey(cfg.Node.KeyPath)
	if err != nil {
		return fmt.Errorf("load key:\n%w", err)
	}

	node, err := NewNode(cfg)
	if err != nil {
		return fmt.Errorf("create node:\n%w", err)
	}

	printStartupInfo(cfg)

	return node.Run()
}

// printStartupInfo displays node configuration at startup.
func printStartupInfo(cfg *Config) {
	pubKey := cfg.PrivateKey.Public().(ed25519.PublicKey)

	logger.Info("starting Strata node",
		"pubkey", hex.EncodeToString(pubKey),
		"http", cfg.Node.HTTPAddress,
		"quic", cfg.Node.QUICAddress,
		"data", cfg.Node.DataPath,
		"peers", len(cfg.Node.Peers),
		"containers", len(cfg.Containers),
	)
}
