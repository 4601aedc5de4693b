// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/arborist/internal/config"
	"github.com/xkilldash9x/arborist/internal/observability"
	"github.com/xkilldash9x/arborist/internal/service"
)

// app carries the state shared by every subcommand of one root command.
type app struct {
	cfgFile  string
	scenario string
	kbPath   string

	v       *viper.Viper
	cfg     *config.Config
	factory service.ComponentFactory
	logger  *zap.Logger
}

// NewRootCommand builds a fresh command tree with the production factory.
func NewRootCommand() *cobra.Command {
	return newRootCommand(service.NewComponentFactory())
}

func newRootCommand(factory service.ComponentFactory) *cobra.Command {
	a := &app{v: viper.New(), factory: factory, logger: zap.NewNop()}
	config.SetDefaults(a.v)

	rootCmd := &cobra.Command{
		Use:   "arborist",
		Short: "Arborist assists attack-tree modelling with suggestions, reviews and scoring.",
		Long: `Arborist helps people build attack trees for a threat scenario. It suggests
attack steps from a knowledge base, flags weak or off-scenario nodes, explains
labels in plain language and scores finished trees against a gold standard.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initialize(cmd)
		},
	}
	rootCmd.SetVersionTemplate(`{{printf "%s version %s\n" .Name .Version}}`)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./arborist.yaml)")
	flags.StringVarP(&a.scenario, "scenario", "s", "", "scenario id to load (overrides data.scenario)")
	flags.StringVar(&a.kbPath, "kb", "", "knowledge base file (overrides data.kb_path)")
	flags.String("mode", "", "experiment mode: kb or baseline (overrides experiment.mode)")
	_ = a.v.BindPFlag("experiment.mode", flags.Lookup("mode"))

	rootCmd.AddCommand(
		newSuggestCmd(a),
		newPruneCmd(a),
		newExplainCmd(a),
		newEvaluateCmd(a),
		newServeCmd(a),
		newMCPCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command with ctx and reports any failure on stderr.
func Execute(ctx context.Context) error {
	err := NewRootCommand().ExecuteContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		observability.GetLogger().Error("Command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	observability.Sync()
	return err
}

// initialize reads the config file and environment, applies flag overrides
// and sets up logging.
func (a *app) initialize(cmd *cobra.Command) error {
	if err := a.readConfig(); err != nil {
		return err
	}
	cfg, err := config.NewConfigFromViper(a.v)
	if err != nil {
		observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "arborist"})
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if a.scenario != "" {
		cfg.SetScenario(a.scenario)
	}
	if a.kbPath != "" {
		cfg.SetKBPath(a.kbPath)
	}
	a.cfg = cfg

	observability.InitializeLogger(cfg.Logger())
	a.logger = observability.GetLogger()
	a.logger.Debug("Starting arborist",
		zap.String("version", Version),
		zap.String("command", cmd.Name()),
		zap.String("scenario", cfg.Data().Scenario))
	return nil
}

func (a *app) readConfig() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		a.v.AddConfigPath(".")
		a.v.SetConfigName("arborist")
		a.v.SetConfigType("yaml")
	}

	a.v.SetEnvPrefix(config.EnvPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	a.v.AutomaticEnv()

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// components builds a session for one command and returns its teardown.
func (a *app) components(ctx context.Context, opts service.CreateOptions) (*service.Components, error) {
	if a.cfg == nil {
		return nil, errors.New("configuration not initialized")
	}
	c, err := a.factory.Create(ctx, a.cfg, opts, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}
	return c, nil
}
