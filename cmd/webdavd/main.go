// Command webdavd is the server (parent) process: it never touches user
// files itself, only speaks HTTP and brokers each request to a pool of
// RAP children.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var version = "dev"

func main() {
	var verbose bool

	root := &cobra.Command{
		Use:   "webdavd",
		Short: "WebDAV server with a privilege-separated request executor",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	addGlobalFlags(root.PersistentFlags(), &verbose)
	root.AddCommand(newServeCommand())
	root.AddCommand(newVersionCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func addGlobalFlags(fs *pflag.FlagSet, verbose *bool) {
	fs.BoolVarP(verbose, "verbose", "v", false, "enable debug logging")
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the webdavd version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}
