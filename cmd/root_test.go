package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subcommandNames(c *cobra.Command) map[string]bool {
	names := make(map[string]bool)
	for _, sub := range c.Commands() {
		names[sub.Name()] = true
	}
	return names
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := subcommandNames(rootCmd)
	for _, name := range []string{"cluster", "enrich", "network", "serve", "worker", "import", "export", "status", "dlq", "runs", "migrate"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "intel-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	require.NotNil(t, rootCmd.PersistentFlags().Lookup("log-level"))
}

func TestNestedSubcommands(t *testing.T) {
	tests := []struct {
		parent *cobra.Command
		want   []string
	}{
		{clusterCmd, []string{"pass", "repair"}},
		{networkCmd, []string{"analyze", "graph"}},
		{dlqCmd, []string{"list", "retry"}},
		{runsCmd, []string{"list", "show"}},
	}
	for _, tt := range tests {
		t.Run(tt.parent.Name(), func(t *testing.T) {
			names := subcommandNames(tt.parent)
			for _, w := range tt.want {
				assert.True(t, names[w], "%s missing %q", tt.parent.Name(), w)
			}
		})
	}
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		cmd  *cobra.Command
		flag string
		def  string
	}{
		{clusterPassCmd, "enrich", "false"},
		{enrichCmd, "limit", "25"},
		{networkAnalyzeCmd, "article", ""},
		{networkAnalyzeCmd, "cluster", ""},
		{networkAnalyzeCmd, "hours", "0"},
		{networkGraphCmd, "min-strength", "0.3"},
		{networkGraphCmd, "limit", "100"},
		{serveCmd, "port", "0"},
		{workerCmd, "start", "false"},
		{exportCmd, "max-clusters", "1000"},
		{statusCmd, "json", "false"},
		{dlqRetryCmd, "all", "false"},
		{dlqListCmd, "limit", "50"},
		{runsListCmd, "limit", "50"},
	}
	for _, tt := range tests {
		t.Run(tt.cmd.Name()+"/"+tt.flag, func(t *testing.T) {
			f := tt.cmd.Flags().Lookup(tt.flag)
			require.NotNil(t, f, "%s should have --%s", tt.cmd.Name(), tt.flag)
			assert.Equal(t, tt.def, f.DefValue)
		})
	}
}

func TestArgs(t *testing.T) {
	assert.Error(t, clusterRepairCmd.Args(clusterRepairCmd, nil))
	assert.NoError(t, clusterRepairCmd.Args(clusterRepairCmd, []string{"c1"}))
	assert.Error(t, importCmd.Args(importCmd, []string{"a.json", "b.json"}))
	assert.Error(t, runsShowCmd.Args(runsShowCmd, nil))
}
