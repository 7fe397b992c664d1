// Command teapotnet runs a friend-to-friend overlay node and exposes
// block store and pub/sub operations from the command line, grounded
// on the teacher's cobra-based cmd/synnergy/main.go: a thin root
// command delegating to one subcommand tree per concern.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	pkgconfig "teapotnet/pkg/config"
)

func main() {
	root := &cobra.Command{Use: "teapotnet"}
	root.PersistentFlags().String("env", "", "configuration environment to merge over default.yaml")

	root.AddCommand(serveCmd())
	root.AddCommand(blockCmd())
	root.AddCommand(pubsubCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the --env flag and loads the merged configuration.
func loadConfig(cmd *cobra.Command) (*pkgconfig.Config, error) {
	env, _ := cmd.Flags().GetString("env")
	return pkgconfig.Load(env)
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}
