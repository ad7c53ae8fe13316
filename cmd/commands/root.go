package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shoswaller/Ghetto-style-Quant-Trading/app"
	"github.com/shoswaller/Ghetto-style-Quant-Trading/config"
	"github.com/shoswaller/Ghetto-style-Quant-Trading/logging"
)

var (
	// Global flags
	configFile string
	verbose    bool
)

// rootCmd 不带子命令时等同于 serve
var rootCmd = &cobra.Command{
	Use:   "quant",
	Short: "个股诊断服务",
	Long: `个股诊断服务

拉取行情与历史K线，计算技术指标，调用大模型生成诊断报告，
并按交易时段缓存结果。

Examples:
  quant serve --config config.yaml
  quant diagnose 600519 --category weekly
  quant cache show 600519
  quant cache clear 600519 --category daily`,
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "输出 debug 日志")
}

// bootstrap 加载配置并组装组件，调用方负责 Close
func bootstrap(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

func shutdown(a *app.App) {
	if err := a.Close(); err != nil {
		a.Logger.Warn("关闭持久层失败", zap.Error(err))
	}
	_ = a.Logger.Sync()
}
