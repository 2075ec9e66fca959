// craftchat - Terminal chat client with local history and offline replies.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"

	"github.com/jeranaias/craftchat/internal/cli"
	"github.com/jeranaias/craftchat/internal/config"
	"github.com/jeranaias/craftchat/internal/logging"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	// A .env file in the working directory may set CRAFTCHAT_* overrides.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
	}
	if cfg == nil {
		cfg = config.Default()
	}

	logger, closer, err := logging.Open(cfg.Log, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v (logging to stderr)\n", err)
		logger, closer = logging.New(cfg.Log, os.Stderr), io.NopCloser(nil)
	}
	defer closer.Close()

	cli.Version = fmt.Sprintf("%s (%s, %s)", Version, GitCommit, BuildDate)
	if err := cli.Execute(cfg, logger); err != nil {
		closer.Close()
		os.Exit(cli.GetExitCode(err))
	}
}
