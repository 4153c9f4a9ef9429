package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/rv64priv/core/internal/hv/riscv/rv64"
)

func run() error {
	configPath := flag.String("config", "", "path to a hart YAML config (see rv64.HartConfig)")
	va := flag.Uint64("translate", 0, "if set, translate this virtual address and print the result")
	verbose := flag.Bool("v", false, "enable debug logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `rvtrap - inspect a RISC-V privileged-core hart's translation state

USAGE:
  rvtrap -config hart.yaml [-translate 0xADDR] [-v]
`)
	}
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *configPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	f, err := os.Open(*configPath)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := rv64.LoadHartConfig(f)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	h, err := rv64.NewHartFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("build hart: %w", err)
	}
	h.Logger = logger

	fmt.Printf("hart: priv=%s pc=0x%x features=%#v\n", h.Priv, h.PC, h.Features)

	if *va != 0 {
		mode := h.EffectivePrivilege(rv64.AccessLoad)
		pa, prot, err := h.Translate(nil, nil, *va, rv64.AccessLoad, mode)
		if err != nil {
			fmt.Printf("translate 0x%x: %v\n", *va, err)
		} else {
			fmt.Printf("translate 0x%x -> 0x%x prot=%#x\n", *va, pa, prot)
		}
	}

	pending := h.LocalIRQPending()
	fmt.Printf("pending interrupt: %d\n", pending)

	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "rvtrap: %v\n", err)
		os.Exit(1)
	}
}
