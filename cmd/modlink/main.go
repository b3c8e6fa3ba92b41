// Command modlink 是审核客户端协调层的命令行入口：
// watch 订阅事件锁，request 经认证网关调用 REST 接口，login 建立身份。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "modlink",
	Short:         "modlink coordinates event moderation locks and authenticated API calls",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", ".", "Directory containing config.yaml")
	rootCmd.PersistentFlags().String("env", "", "Environment overlay (config.<env>.yaml), defaults to $MODLINK_ENV")

	rootCmd.AddCommand(newWatchCmd(), newRequestCmd(), newLoginCmd())
}

// appFromFlags 读取全局参数并装配组件
func appFromFlags(cmd *cobra.Command) (*app, error) {
	dir, _ := cmd.Flags().GetString("config")
	env, _ := cmd.Flags().GetString("env")
	return newApp(cmd.Context(), dir, env)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
