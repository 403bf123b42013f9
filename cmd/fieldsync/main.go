package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/fieldsync/internal/cliconfig"
	"github.com/bft-labs/fieldsync/pkg/fieldsync"
)

const helpDescription = `
Keep field devices productive without a network. fieldsync queues every
mutation locally, protects critical changes across restarts and replays them
in adaptive batches once the link is back.

Highlights:
  - Critical operations (inventory, payments, job status) sync first.
  - Batch size and pacing follow measured connection quality.
  - Failed operations are listed and retried through a local control API.
  - Configure via file ($HOME/.fieldsync/config.toml), env (FIELDSYNC_*), or flags.
`

var exampleUsage = strings.TrimSpace(`
  fieldsync run --service-url https://sync.example.com --auth-key <api-key>
  fieldsync run --config $HOME/.fieldsync/config.toml --store file
  fieldsync status
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return fieldsync.Version
}

func main() {
	root := &cobra.Command{
		Use:           "fieldsync",
		Short:         "Offline-first mutation sync daemon for field devices",
		Long:          strings.TrimSpace(helpDescription),
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to config file (default: $HOME/.fieldsync/config.toml)")

	root.AddCommand(newRunCommand(), newStatusCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fieldsync:", err)
		os.Exit(1)
	}
}

// loadConfig layers the config file and FIELDSYNC_* env vars under the flags
// the user set explicitly. It returns the config file path in use.
func loadConfig(cmd *cobra.Command, cfg *cliconfig.Config) (string, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return "", fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(cfg, fc, changed); err != nil {
			return "", err
		}
	}

	if err := cliconfig.ApplyEnvConfig(cfg, changed); err != nil {
		return "", fmt.Errorf("env config: %w", err)
	}
	return cfgFile, nil
}
