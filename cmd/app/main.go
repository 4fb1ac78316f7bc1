package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"GridWatch/internal/di"
	"GridWatch/internal/domain/models"
	"GridWatch/internal/service/gridfile"
	"GridWatch/internal/services/grid"
	"GridWatch/pkg/config"
	"GridWatch/pkg/prompt"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "configs/config.yaml", "config file path")
	gridPath := flag.String("grid", "", "grid configuration file (overrides grid.config_path)")
	confirm := flag.Bool("confirm", false, "ask for confirmation before starting")
	flag.Parse()

	os.Exit(run(*configPath, *gridPath, *confirm, os.Stdin, os.Stdout))
}

func run(configPath, gridPath string, confirm bool, in io.Reader, out io.Writer) int {
	fmt.Fprintln(out, "\n<<<<<< GridWatch >>>>>>")
	fmt.Fprintln(out, "Grid levels and ticker trend watcher for Bitfinex.")

	// Load config
	cfg, err := config.LoadWithEnv(configPath)
	if err != nil {
		log.Printf("config load failed: %v", err)
		return 1
	}
	if gridPath != "" {
		cfg.Grid.ConfigPath = gridPath
	}

	fmt.Fprintln(out, "Loading grid configuration...")
	settings, err := gridfile.Load(cfg.Grid.ConfigPath, cfg.Grid.MaxLevels)
	var missing *gridfile.MissingKeysError
	switch {
	case errors.Is(err, gridfile.ErrTemplateCreated):
		fmt.Fprintf(out, "Grid configuration %s not found. A template was written; review it and start again.\n", cfg.Grid.ConfigPath)
		return 0
	case errors.As(err, &missing):
		for _, k := range missing.Keys {
			fmt.Fprintf(out, "Missing key %s in %s.\n", k, missing.Path)
		}
		fmt.Fprintln(out, "Cannot continue.")
		return 1
	case err != nil:
		log.Printf("grid configuration: %v", err)
		return 1
	}

	// Generated once; the app serves these same levels.
	levels := grid.Generate(settings.GridConfig())
	printSettings(out, settings, levels)

	if confirm {
		ok, err := prompt.Confirm(in, out, "Start with this configuration?")
		if err != nil {
			log.Printf("confirmation: %v", err)
			return 1
		}
		if !ok {
			fmt.Fprintln(out, "Aborted.")
			return 0
		}
	}

	// Wire DI: Initialize all dependencies
	app, cleanup, err := di.InitializeApp(cfg, *settings, levels)
	if err != nil {
		log.Printf("app initialization failed: %v", err)
		return 1
	}
	defer cleanup()

	fmt.Fprintf(out, "\nReceiving data from %s...\n", cfg.Exchange.Name)

	// Run application (blocks until signal)
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		return 1
	}
	return 0
}

func printSettings(out io.Writer, s *models.GridSettings, levels models.GridLevels) {
	fmt.Fprintln(out, "\nCurrent configuration:")
	for _, kv := range gridfile.Entries(s) {
		fmt.Fprintf(out, "%s: %s\n", kv[0], kv[1])
	}

	fmt.Fprintln(out, "\nGrid levels:")
	fmt.Fprintln(out, strings.Join(levels.Strings(), ","))
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Max level: %s %s\n", levels.Max(), s.QuoteCurrency)
	fmt.Fprintf(out, "Min level: %s %s\n", levels.Min(), s.QuoteCurrency)
}
