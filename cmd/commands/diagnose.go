package commands

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/shoswaller/Ghetto-style-Quant-Trading/diagnosis"
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose <code>",
	Short: "对单只股票执行一次诊断并输出 JSON",
	Long: `执行一次完整诊断流程，结果写入缓存并以 JSON 打印到标准输出。

Example:
  quant diagnose 600519
  quant diagnose sh600519 --category weekly --force
  quant diagnose 000001 --preference 短线`,
	Args: cobra.ExactArgs(1),
	RunE: runDiagnose,
}

var (
	diagCategory   string
	diagForce      bool
	diagPreference string
)

func init() {
	rootCmd.AddCommand(diagnoseCmd)

	diagnoseCmd.Flags().StringVar(&diagCategory, "category", "", "缓存类别 daily|weekly|longterm，默认取配置")
	diagnoseCmd.Flags().BoolVar(&diagForce, "force", false, "跳过缓存强制重新诊断")
	diagnoseCmd.Flags().StringVar(&diagPreference, "preference", "", "策略偏好")
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer shutdown(a)

	res, err := a.Diagnosis.Diagnose(ctx, diagnosis.Request{
		Code:         args[0],
		Category:     diagCategory,
		ForceRefresh: diagForce,
		Preference:   diagPreference,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(res)
}
