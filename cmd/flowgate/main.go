// Command flowgate 启动控制进程或捕获进程，两者通过共享的 SQLite 文件协作。
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	var configPath string
	rootCmd := &cobra.Command{
		Use:           "flowgate",
		Short:         "Cross-process HTTP flow interception coordinator",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to flowgate.yaml")

	rootCmd.AddCommand(controlCmd(&configPath))
	rootCmd.AddCommand(captureCmd(&configPath))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
