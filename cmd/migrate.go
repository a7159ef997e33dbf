package cmd

import (
	"fmt"

	"MusicFlow/db"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "同步数据库表结构",
	Long:  `连接 MySQL 并为用户、资料和面板创建或更新数据表。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("数据库: %s@%s:%s/%s\n", cfg.DBUser, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err := db.ConnectGormDB(cfg); err != nil {
			return err
		}
		defer db.CloseGormDB()

		if err := db.Migrate(); err != nil {
			return err
		}
		fmt.Println("数据库迁移完成。")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
