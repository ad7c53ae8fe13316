package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "诊断缓存管理",
	Long: `查看或清除持久层中的诊断缓存。

Example:
  quant cache show 600519
  quant cache clear 600519 --category weekly`,
}

var cacheShowCmd = &cobra.Command{
	Use:   "show <code>",
	Short: "列出某只股票的缓存条目",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheShow,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear <code>",
	Short: "清除某只股票的缓存",
	Long: `清除某只股票的诊断缓存，不指定 --category 时清除全部类别。

Example:
  quant cache clear 600519
  quant cache clear 600519 --category daily`,
	Args: cobra.ExactArgs(1),
	RunE: runCacheClear,
}

var clearCategory string

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheShowCmd)
	cacheCmd.AddCommand(cacheClearCmd)

	cacheClearCmd.Flags().StringVar(&clearCategory, "category", "", "只清除指定类别")
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runCacheShow(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer shutdown(a)

	entries, err := a.Diagnosis.CachedEntries(ctx, args[0])
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("无缓存条目")
		return nil
	}

	now := time.Now()
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tFINGERPRINT\tCREATED\tEXPIRES\tSTATUS")
	for _, e := range entries {
		status := "valid"
		if !now.Before(e.ExpiresAt) {
			status = "expired"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Category,
			e.Fingerprint,
			e.CreatedAt.Local().Format(time.DateTime),
			e.ExpiresAt.Local().Format(time.DateTime),
			status)
	}
	return tw.Flush()
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer shutdown(a)

	if err := a.Diagnosis.Invalidate(ctx, args[0], clearCategory); err != nil {
		return err
	}
	if clearCategory == "" {
		fmt.Printf("已清除 %s 的全部缓存\n", args[0])
	} else {
		fmt.Printf("已清除 %s 的 %s 缓存\n", args[0], clearCategory)
	}
	return nil
}
