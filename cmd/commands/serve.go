package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shoswaller/Ghetto-style-Quant-Trading/config"
	qhttp "github.com/shoswaller/Ghetto-style-Quant-Trading/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 HTTP API 服务",
	Long: `启动 HTTP API、WebSocket 进度推送与收盘预热调度。

配置文件修改后 LLM 后端会热加载，其余配置需重启生效。

Example:
  quant serve --config config.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer shutdown(a)
	logger := a.Logger

	a.Providers.StartHealthChecks()
	defer a.Providers.StopHealthChecks()

	if a.Scheduler != nil {
		if err := a.Scheduler.Start(); err != nil {
			logger.Warn("预热调度未启动", zap.Error(err))
		} else {
			defer a.Scheduler.Stop()
		}
	}

	go func() {
		err := config.Watch(ctx, configFile, logger.Named("config"), func(cfg *config.Config) {
			if err := a.Reload(ctx, cfg); err != nil {
				logger.Warn("LLM 配置热加载失败", zap.Error(err))
			}
		})
		if err != nil {
			logger.Warn("配置监听未启动", zap.Error(err))
		}
	}()

	server := qhttp.NewServer(a.Config.Server, a.HTTPDeps())
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("收到退出信号")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("HTTP 服务关闭失败", zap.Error(err))
		return err
	}
	return nil
}
