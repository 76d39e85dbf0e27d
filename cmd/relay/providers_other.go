//go:build !darwin

package main

import (
	"github.com/forgerelay/relay/internal/sandbox"
	"github.com/forgerelay/relay/pkg/types"
)

// platformProviders has nothing to add on non-macOS hosts: the microVM
// provider is built on Lima, which only runs VMs on macOS.
func platformProviders(cfg *types.Config) []sandbox.Provider {
	return nil
}
