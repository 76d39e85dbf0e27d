//go:build darwin

package main

import (
	"github.com/forgerelay/relay/internal/sandbox"
	"github.com/forgerelay/relay/internal/sandbox/microvm"
	"github.com/forgerelay/relay/pkg/types"
)

// platformProviders returns sandbox providers only buildable on this OS.
// Lima (and therefore the microVM provider) only supports macOS hosts.
func platformProviders(cfg *types.Config) []sandbox.Provider {
	return []sandbox.Provider{microvm.New(microvm.Config{
		InstanceTemplate: cfg.MicroVM.InstanceTemplate,
		DataDir:          cfg.MicroVM.DataDir,
	})}
}
