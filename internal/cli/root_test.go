package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "fleetsync", cmd.Use)
	assert.Contains(t, cmd.Long, "deep links")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"resolve"},
		{"open"},
		{"watch"},
		{"provision"},
		{"machines"},
		{"machines", "list"},
		{"machines", "show"},
	}

	for _, path := range commands {
		t.Run(path[len(path)-1], func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	dbFlag := cmd.PersistentFlags().Lookup("db")
	require.NotNil(t, dbFlag)
	assert.Equal(t, "", dbFlag.DefValue)
}

func TestProvisionCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	provisionCmd, _, err := cmd.Find([]string{"provision"})
	require.NoError(t, err)

	dryRun := provisionCmd.Flags().Lookup("dry-run")
	require.NotNil(t, dryRun)
	assert.Equal(t, "false", dryRun.DefValue)
}

func TestWatchCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	watchCmd, _, err := cmd.Find([]string{"watch"})
	require.NoError(t, err)

	inputFlag := watchCmd.Flags().Lookup("input")
	require.NotNil(t, inputFlag)
	assert.Equal(t, "i", inputFlag.Shorthand)
}

func TestMachinesListFlags(t *testing.T) {
	cmd := NewRootCommand()
	listCmd, _, err := cmd.Find([]string{"machines", "list"})
	require.NoError(t, err)
	require.NotNil(t, listCmd.Flags().Lookup("fleet"))
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "resolve", "#/m/a"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}
