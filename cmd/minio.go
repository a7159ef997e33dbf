package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"MusicFlow/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix string
	minioStats  bool
	minioDelete bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO存储桶管理",
	Long:  `查看和管理MinIO存储桶中的头像文件，支持列出文件、查看统计信息和删除目录。`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("开始连接MinIO服务器...")
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		client, err := storage.InitMinio(cfg)
		if err != nil {
			log.Fatalf("无法连接到MinIO: %v", err)
		}
		fmt.Println("MinIO连接成功！")

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		if minioDelete {
			fmt.Printf("\n删除目录: %s\n", minioPrefix)
			n, err := storage.RemovePrefix(ctx, client, cfg.MinioBucket, minioPrefix)
			if err != nil {
				log.Fatalf("删除目录失败: %v", err)
			}
			fmt.Printf("已删除 %d 个文件\n", n)
			return
		}

		objects, stats, err := storage.ListObjects(ctx, client, cfg.MinioBucket, minioPrefix)
		if err != nil {
			log.Fatalf("列出文件失败: %v", err)
		}
		if !minioStats {
			fmt.Printf("\n列出存储桶中的文件 (前缀: %s)...\n", minioPrefix)
			for _, o := range objects {
				fmt.Printf("  %-60s %10s  %s\n", o.Key, storage.FormatSize(o.Size), o.LastModified.Format("2006-01-02 15:04:05"))
			}
		}
		fmt.Printf("\n文件总数: %d\n", stats.TotalObjects)
		fmt.Printf("总大小: %s\n", storage.FormatSize(stats.TotalSize))
		if stats.TotalObjects > 0 {
			fmt.Printf("最后修改: %s\n", stats.LastModified.Format("2006-01-02 15:04:05"))
		}
	},
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", storage.AvatarPrefix, "按前缀过滤文件或指定要操作的目录")
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "只显示统计信息")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除指定目录及其下的所有文件")

	minioCmd.Example = `  # 列出所有头像
  musicflow minio

  # 某个用户的头像
  musicflow minio -p "profile_pics/42/"

  # 只看统计信息
  musicflow minio -s

  # 删除目录及其下的所有文件
  musicflow minio -d -p "profile_pics/42/"`
}
