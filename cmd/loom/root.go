package main

import (
	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Multi-platform messaging bridge",
	Long:  "Loom bridges Telegram, WhatsApp and Slack accounts behind one HTTP and WebSocket API.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge server",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config.toml")
	rootCmd.AddCommand(serveCmd)
}
