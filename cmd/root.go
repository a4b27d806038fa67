package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Far3/financial-advisor-ai/internal/config"
	"github.com/Far3/financial-advisor-ai/internal/logger"
)

var (
	// cfgFile is the path given with --config.
	cfgFile string
	verbose bool
	version = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   "advisor",
	Short: "Financial advisor assistant: durable scheduling tasks driven by email replies.",
	Long: `advisor keeps long-running advisor workflows (such as scheduling a meeting
with a client) alive across email round trips. It proposes times, watches the
inbox for the reply, books the calendar event and confirms.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.Setup(viper.GetBool("verbose"), viper.GetString("log.format"))
		logger.SetVersion(version)
		logger.SetCommand(cmd.CommandPath())
		logger.SetBasePath(config.LocalDataDir)
	},
}

// Execute runs the root command. It is called once by main.main().
func Execute() {
	defer logger.HandlePanic()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(InitConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./.advisor.yaml or $HOME/.advisor.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}
