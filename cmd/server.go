package cmd

import (
	"MusicFlow/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 MusicFlow 服务器",
	Long:  `启动 MusicFlow 的 HTTP 和 WebSocket 服务，提供账号、资料和作曲工作室 API`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.Start(cfg)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
