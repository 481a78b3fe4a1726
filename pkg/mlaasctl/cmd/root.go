package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/helix-mlaas/mlaasctl/pkg/metrics"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/config"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/errdefs"
	"github.com/helix-mlaas/mlaasctl/pkg/mlaasctl/output"
	"github.com/helix-mlaas/mlaasctl/pkg/system"
)

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
	ErrorWriter  io.Writer
	Input        io.Reader
}

type runtimeState struct {
	configPath           string
	envFile              string
	cfg                  *config.Config
	outputFormat         string
	tokenStorageOverride string
	username             string
	passwordStdin        bool
	metricsFile          string
	timeout              string
	nonInteractive       bool
	verbose              bool
	writer               io.Writer
	errWriter            io.Writer
	input                io.Reader
	in                   *bufio.Reader
	log                  *zap.SugaredLogger
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   config.DefaultConfigPath(),
		OutputWriter: os.Stdout,
		ErrorWriter:  os.Stderr,
		Input:        os.Stdin,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	root, _ := newRootCommand(cfg)
	return root
}

func newRootCommand(cfg Config) (*cobra.Command, *runtimeState) {
	rt := &runtimeState{
		configPath: cfg.ConfigPath,
		writer:     cfg.OutputWriter,
		errWriter:  cfg.ErrorWriter,
		input:      cfg.Input,
	}
	var (
		list     bool
		selector string
	)

	root := &cobra.Command{
		Use:   "mlaasctl",
		Short: "Get API keys for MLaaS model services",
		Long: `mlaasctl logs you in, makes sure you have a developer account and
hands out API keys for the model services published on the API gateway.

Without flags it lists the services and asks which one you need a key for.

Exit codes:
  0 success
  1 authentication or usage error
  2 account resolution failed
  3 service not found or ambiguous
  4 provisioning failed
  5 admin API unavailable`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return rt.init(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			switch {
			case list && cmd.Flags().Changed("init"):
				return errors.New("--list and --init cannot be combined")
			case list:
				return runList(cmd.Context(), rt)
			case cmd.Flags().Changed("init"):
				return runInit(cmd.Context(), rt, selector)
			default:
				return runInteractive(cmd.Context(), rt)
			}
		},
	}

	root.Flags().BoolVarP(&list, "list", "l", false, "List services and whether you already have a key for each")
	root.Flags().StringVarP(&selector, "init", "i", "", "Get or create the key for one service: name=<service name> or id=<service id>")

	pf := root.PersistentFlags()
	pf.StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	pf.StringVar(&rt.envFile, "env-file", ".env", "Load environment variables from this file if it exists")
	pf.StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, wide, json, yaml")
	pf.StringVar(&rt.tokenStorageOverride, "token-storage", "", "Session storage backend: file or keychain")
	pf.StringVarP(&rt.username, "username", "u", "", "Login user name (defaults to the OS user)")
	pf.BoolVar(&rt.passwordStdin, "password-stdin", false, "Read the login password from stdin")
	pf.StringVar(&rt.metricsFile, "metrics-file", "", "Write run metrics to this file in Prometheus text format")
	pf.StringVar(&rt.timeout, "timeout", "", "Timeout for each network call, e.g. 30s")
	pf.BoolVar(&rt.nonInteractive, "non-interactive", false, "Fail instead of prompting")
	pf.BoolVarP(&rt.verbose, "verbose", "v", false, "Enable debug logging on stderr")

	root.SetOut(rt.Writer())
	root.SetErr(rt.ErrWriter())
	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewAuthCommand(),
		NewConfigCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)
	return root, rt
}

// Run executes the command line and returns the process exit code. Errors
// are printed to the error writer and run metrics are written when requested.
func Run(ctx context.Context, cfg Config, args []string) int {
	root, rt := newRootCommand(cfg)
	root.SetArgs(args)
	root.SetContext(context.WithValue(ctx, runtimeKey{}, rt))

	executed, err := root.ExecuteC()
	code := errdefs.ExitCode(err)
	if err != nil {
		_, _ = fmt.Fprintf(rt.ErrWriter(), "Error: %v\n", err)
	}

	name := "mlaasctl"
	if executed != nil {
		name = strings.ReplaceAll(executed.CommandPath(), " ", "_")
	}
	metrics.LastRunTimestamp.WithLabelValues(name, strconv.Itoa(code)).SetToCurrentTime()
	if err := metrics.WriteTextfile(rt.metricsFile); err != nil {
		rt.logger().Warnw("Failed to write metrics file", "path", rt.metricsFile, "error", err)
	}
	if rt.log != nil {
		_ = rt.log.Sync()
	}
	return code
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) init(cmd *cobra.Command) error {
	if rt.writer == nil {
		rt.writer = os.Stdout
	}
	if rt.errWriter == nil {
		rt.errWriter = os.Stderr
	}
	if rt.input == nil {
		rt.input = os.Stdin
	}
	if rt.configPath == "" {
		rt.configPath = config.DefaultConfigPath()
	}
	if rt.outputFormat == "" {
		rt.outputFormat = os.Getenv("MLAASCTL_OUTPUT")
	}
	if rt.tokenStorageOverride == "" {
		rt.tokenStorageOverride = os.Getenv("MLAASCTL_TOKEN_STORAGE")
	}
	if !rt.nonInteractive {
		rt.nonInteractive = strings.EqualFold(os.Getenv("MLAASCTL_NON_INTERACTIVE"), "true")
	}
	if !rt.verbose {
		rt.verbose = strings.EqualFold(os.Getenv("MLAASCTL_VERBOSE"), "true")
	}
	rt.log = system.NewCLILogger(rt.errWriter, rt.verbose).Sugar()

	// Skip config loading for commands that don't need it
	if cmd.Name() == "version" || cmd.Name() == "completion" {
		return nil
	}
	if cmd.Name() == "init" && cmd.Parent() != nil && cmd.Parent().Name() == "config" {
		return nil
	}
	if err := config.LoadEnvFile(rt.envFile); err != nil {
		return fmt.Errorf("failed to load %s: %w", rt.envFile, err)
	}
	return rt.EnsureConfigLoaded()
}

// EnsureConfigLoaded reads the config file, if any, and overlays the
// environment.
func (rt *runtimeState) EnsureConfigLoaded() error {
	if rt.cfg != nil {
		return nil
	}
	cfg, err := config.LoadOrDefault(rt.configPathValue())
	if err != nil {
		return err
	}
	cfg.ApplyEnv(os.Getenv)
	if rt.metricsFile == "" {
		rt.metricsFile = cfg.Settings.MetricsFile
	}
	rt.cfg = cfg
	return nil
}

func (rt *runtimeState) OutputFormat() (output.Format, error) {
	if rt.outputFormat != "" {
		return output.ParseFormat(rt.outputFormat)
	}
	if rt.cfg != nil && rt.cfg.Settings.OutputFormat != "" {
		return output.ParseFormat(rt.cfg.Settings.OutputFormat)
	}
	return output.FormatTable, nil
}

func (rt *runtimeState) TokenStorage() string {
	if rt.tokenStorageOverride != "" {
		return rt.tokenStorageOverride
	}
	if rt.cfg != nil && rt.cfg.Settings.TokenStorage != "" {
		return rt.cfg.Settings.TokenStorage
	}
	return config.StorageFile
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) ErrWriter() io.Writer {
	if rt.errWriter != nil {
		return rt.errWriter
	}
	return os.Stderr
}

// reader is shared by every prompt so buffered input is never lost between them.
func (rt *runtimeState) reader() *bufio.Reader {
	if rt.in == nil {
		in := rt.input
		if in == nil {
			in = os.Stdin
		}
		rt.in = bufio.NewReader(in)
	}
	return rt.in
}

func (rt *runtimeState) logger() *zap.SugaredLogger {
	if rt.log == nil {
		return zap.NewNop().Sugar()
	}
	return rt.log
}

func (rt *runtimeState) configPathValue() string {
	if rt.configPath == "" {
		return config.DefaultConfigPath()
	}
	return rt.configPath
}
