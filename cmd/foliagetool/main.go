// Offline maintenance for foliage files and the type registry.
//
// Usage:
//
//	go run ./cmd/foliagetool info data/foliage.bin.zst
//	go run ./cmd/foliagetool strip-label data/foliage.bin.zst "Hand Painted"
//	go run ./cmd/foliagetool types-push
//	go run ./cmd/foliagetool --list
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/udisondev/foliage/internal/config"
)

const ConfigPath = "config/foliage.yaml"

var errUsage = errors.New("wrong number of arguments")

type command struct {
	name  string
	usage string
	desc  string
	run   func(ctx context.Context, cfg config.Foliage, args []string, out io.Writer) error
}

var commands []command

func registerCommand(name, usage, desc string, fn func(context.Context, config.Foliage, []string, io.Writer) error) {
	commands = append(commands, command{name: name, usage: usage, desc: desc, run: fn})
}

func init() {
	registerCommand("info", "<file>", "Print cells, instances per type and labels", runInfo)
	registerCommand("compact", "<file>", "Drop empty cells and rewrite the file", runCompact)
	registerCommand("strip-label", "<file> <label>", "Remove every instance with the label", runStripLabel)
	registerCommand("remove-type", "<file> <name>", "Remove every instance of the type", runRemoveType)
	registerCommand("clean", "<file>", "Remove data of types missing from the types file", runClean)
	registerCommand("paint", "<file> <strokes>", "Paint demo strokes onto rolling hills", runPaint)
	registerCommand("stick", "<file> <label> <height>", "Re-seat a label onto a flat terrain", runStick)
	registerCommand("types-push", "", "Upsert the types file into PostgreSQL", runTypesPush)
	registerCommand("types-list", "", "List the types stored in PostgreSQL", runTypesList)
}

func main() {
	args := os.Args[1:]

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "--list" {
		printList(os.Stdout)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, args, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "[foliagetool] FAILED %s: %v\n", args[0], err)
		if errors.Is(err, errUsage) {
			printUsage()
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	cfgPath := ConfigPath
	if p := os.Getenv("FOLIAGE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadFoliage(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	return dispatch(ctx, cfg, args, out)
}

func dispatch(ctx context.Context, cfg config.Foliage, args []string, out io.Writer) error {
	for _, c := range commands {
		if c.name != args[0] {
			continue
		}
		start := time.Now()
		if err := c.run(ctx, cfg, args[1:], out); err != nil {
			return err
		}
		slog.Debug("command done", "command", c.name, "took", time.Since(start).Round(time.Millisecond))
		return nil
	}

	printList(os.Stderr)
	return fmt.Errorf("unknown command: %s", args[0])
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Usage: go run ./cmd/foliagetool <command> [args...]")
	fmt.Fprintln(os.Stderr, "       go run ./cmd/foliagetool --list")
}

func printList(w io.Writer) {
	sorted := make([]command, len(commands))
	copy(sorted, commands)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].name < sorted[j].name })

	maxLen := 0
	for _, c := range sorted {
		maxLen = max(maxLen, len(c.name)+len(c.usage)+1)
	}

	fmt.Fprintln(w, "Available commands:")
	for _, c := range sorted {
		head := strings.TrimSpace(c.name + " " + c.usage)
		padding := strings.Repeat(" ", maxLen-len(head)+2)
		fmt.Fprintf(w, "  %s%s%s\n", head, padding, c.desc)
	}
}
