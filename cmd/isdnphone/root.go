package main

import (
	"github.com/spf13/cobra"

	"github.com/arzzra/isdn_phone/pkg/capi"
)

var (
	flagConfig  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "isdnphone",
	Short: "Движок управления вызовами ISDN поверх CAPI",
	Long: `isdnphone — движок управления телефонными и факсовыми вызовами ISDN
поверх очереди сообщений CAPI 2.0.

Утилита служит для демонстрации и отладки движка: сценарии выполняются
на программном транспорте с эмулируемым контроллером.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "путь к ini-файлу конфигурации")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "журналирование на уровне debug")

	rootCmd.AddCommand(simulateCmd)
}

// loadConfig собирает конфигурацию движка из файла и флагов.
func loadConfig() (*capi.Config, error) {
	cfg := capi.DefaultConfig()
	if flagConfig != "" {
		loaded, err := capi.LoadConfig(flagConfig)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if flagVerbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}
