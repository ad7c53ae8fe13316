package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shoswaller/Ghetto-style-Quant-Trading/scheduler"
)

var warmupCmd = &cobra.Command{
	Use:   "warmup [code...]",
	Short: "立即执行一次缓存预热",
	Long: `对配置中的预热列表(或命令行给出的股票)执行一次诊断，仍有效的缓存不会重算。

Example:
  quant warmup
  quant warmup 600519 000001`,
	RunE: runWarmup,
}

func init() {
	rootCmd.AddCommand(warmupCmd)
}

func runWarmup(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer shutdown(a)

	symbols := a.Config.Scheduler.Symbols
	if len(args) > 0 {
		symbols = args
	}
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols: set scheduler.symbols or pass codes")
	}

	s, err := scheduler.New(a.Diagnosis, scheduler.Options{
		Spec:       a.Config.Scheduler.Spec,
		Symbols:    symbols,
		Categories: a.Config.Scheduler.Categories,
		Logger:     a.Logger.Named("scheduler"),
	})
	if err != nil {
		return err
	}
	stats := s.RunOnce(ctx)
	fmt.Printf("预热完成: 新生成 %d, 命中缓存 %d, 失败 %d\n", stats.LastWarmed, stats.LastCached, stats.LastFailed)
	return nil
}
