package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCommandWiring(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"migrate", "import", "analyze", "patterns", "status", "serve"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestServeFlagDefaults(t *testing.T) {
	f := serveCmd.Flags().Lookup("port")
	assert.NotNil(t, f)
	assert.Equal(t, "0", f.DefValue)

	f = importCmd.Flags().Lookup("csv")
	assert.NotNil(t, f)
}
