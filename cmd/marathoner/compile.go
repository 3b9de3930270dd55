package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/artpar/marathoner/internal/core/compiler"
	manifest "github.com/artpar/marathoner/internal/core/marathon"
	"github.com/artpar/marathoner/internal/core/ports"
	"github.com/artpar/marathoner/internal/core/topology"
)

// compileFile compiles a topology document offline with a fresh allocator
// and writes the manifest to w.
func compileFile(cfg *Config, path, format string, w io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read topology: %w", err)
	}

	doc, err := topology.ParseTopology(data)
	if err != nil {
		return err
	}

	compilerCfg, err := cfg.Compiler.Build()
	if err != nil {
		return err
	}

	group, err := compiler.New(ports.New(cfg.Ports.Base), compilerCfg).CompileGroup(doc.DeploymentID, doc.Topology)
	if err != nil {
		return err
	}
	if _, err := manifest.StartupOrder(group.Apps); err != nil {
		return err
	}

	switch format {
	case "compose":
		out, err := manifest.ComposeYAML(group)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(group)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
