// Package main renders the ledger's command and event catalog from the
// registered stage vocabularies.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/kilnline/ledger/internal/services/ledger/domain/aggregate"
	"github.com/kilnline/ledger/internal/services/ledger/domain/command"
	"github.com/kilnline/ledger/internal/services/ledger/domain/event"
	"github.com/kilnline/ledger/internal/services/ledger/domain/stage"
)

func main() {
	var outPath string
	var rootFlag string
	flag.StringVar(&outPath, "out", "docs/events/event-catalog.md", "output path for the catalog")
	flag.StringVar(&rootFlag, "root", "", "repo root (defaults to locating go.mod)")
	flag.Parse()

	root, err := resolveRoot(rootFlag)
	if err != nil {
		fatal(err)
	}
	output := outPath
	if !filepath.IsAbs(output) {
		output = filepath.Join(root, outPath)
	}

	commands, events, err := aggregate.Registries()
	if err != nil {
		fatal(err)
	}
	content := renderCatalog(aggregate.Kinds(), commands, events)
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		fatal(fmt.Errorf("mkdir %s: %w", filepath.Dir(output), err))
	}
	if err := os.WriteFile(output, []byte(content), 0o644); err != nil {
		fatal(fmt.Errorf("write %s: %w", output, err))
	}
}

func resolveRoot(flagRoot string) (string, error) {
	if flagRoot != "" {
		return filepath.Clean(flagRoot), nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working dir: %w", err)
	}
	return findModuleRoot(wd)
}

func findModuleRoot(start string) (string, error) {
	dir := start
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("go.mod not found above %s", start)
}

func renderCatalog(kinds []aggregate.Kind, commands *command.Registry, events *event.Registry) string {
	var buf bytes.Buffer
	buf.WriteString("# Event Catalog\n\n")
	buf.WriteString("Generated by `go run ./internal/tools/eventdocgen`.\n\n")

	for _, kind := range kinds {
		fmt.Fprintf(&buf, "## `%s`\n\n", kind.Type)

		types := commands.Types(kind.Type)
		sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
		buf.WriteString("### Commands\n\n")
		buf.WriteString("| Command | Creates | Link role |\n")
		buf.WriteString("| --- | :---: | --- |\n")
		roles := linkRoles(kind.Vocabulary)
		for _, typ := range types {
			def, _ := commands.Definition(typ)
			fmt.Fprintf(&buf, "| `%s` | %s | %s |\n", typ, mark(def.Creates), roles[typ])
		}

		buf.WriteString("\n### Events\n\n")
		buf.WriteString("| Event | Creates | Terminal |\n")
		buf.WriteString("| --- | :---: | :---: |\n")
		for _, def := range events.Definitions(kind.Type) {
			fmt.Fprintf(&buf, "| `%s` | %s | %s |\n", def.Type, mark(def.Creates), mark(def.Terminal))
		}
		buf.WriteString("\n")
	}
	return buf.String()
}

// linkRoles names the coordinator role each vocabulary command plays.
func linkRoles(v stage.Vocabulary) map[command.Type]string {
	roles := map[command.Type]string{}
	set := func(typ command.Type, role string) {
		if typ != "" {
			roles[typ] = role
		}
	}
	set(v.Reserve, "supply: reserve")
	set(v.Release, "supply: release")
	set(v.ConsumeReservation, "supply: consume reservation")
	set(v.Consume, "supply: consume input")
	set(v.ReturnInput, "supply: return input")
	set(v.Allocate, "demand: allocate")
	set(v.ReleaseAllocation, "demand: release allocation")
	set(v.ConsumeAllocation, "demand: consume allocation")
	set(v.AddInput, "demand: add input")
	set(v.RemoveInput, "demand: remove input")
	set(v.Cancel, "cancel")
	return roles
}

func mark(ok bool) string {
	if ok {
		return "yes"
	}
	return ""
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
