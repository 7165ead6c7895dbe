package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mitmrw/mitmrw/internal/api"
	"github.com/mitmrw/mitmrw/internal/config"
	"github.com/mitmrw/mitmrw/internal/filter"
	"github.com/mitmrw/mitmrw/internal/handler"
	"github.com/mitmrw/mitmrw/internal/log"
	"github.com/mitmrw/mitmrw/internal/metrics"
	"github.com/mitmrw/mitmrw/internal/mitm"
	"github.com/mitmrw/mitmrw/internal/rule"
	serverhttp "github.com/mitmrw/mitmrw/internal/server/http"
	"github.com/mitmrw/mitmrw/internal/statistics"
)

var (
	AppVersion    = "Development"
	shutdownChain []func() error
)

var rootCmd = &cobra.Command{
	Use:   "mitmrw",
	Short: "mitmrw is a rule-driven HTTP(S) rewriting proxy",
	Long:  "mitmrw is an HTTP proxy that intercepts HTTP and, with MitM enabled, HTTPS traffic and rewrites requests and responses according to an ordered rule list.",
	RunE:  runRoot,
}

func init() {
	cobra.OnInitialize(initConfig)

	// Short flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file path")
	rootCmd.Flags().StringP("bind", "b", "", "Bind address")
	rootCmd.Flags().IntP("port", "p", 0, "Port")
	rootCmd.Flags().StringP("log-level", "l", "", "Log level: debug, info, warn, error")
	rootCmd.Flags().BoolP("version", "v", false, "Show version")
	rootCmd.Flags().BoolP("generate-config", "g", false, "Generate template config file")

	// Long flags
	rootCmd.Flags().String("log-dir", "", "Log directory")
	rootCmd.Flags().String("api-server", "", "Admin API listen address, e.g. 127.0.0.1:9090")
	rootCmd.Flags().String("api-server-secret", "", "Admin API bearer secret")
	rootCmd.Flags().String("short-circuit-policy", "", "Rules that see a synthetic response: skip-owner, all, none")
	rootCmd.Flags().Bool("strict-rules", false, "Fail on invalid rules instead of skipping them")
	rootCmd.PersistentFlags().String("rules", "", "Rules as a JSON array")
	rootCmd.Flags().Bool("mitm", false, "Enable HTTPS interception")
	rootCmd.Flags().StringSlice("mitm-hostname", nil, "Hostnames to intercept, e.g. *.example.com,api.test.org:0")
	rootCmd.Flags().Bool("mitm-default-allow", false, "Intercept every host when no hostname is configured")
	rootCmd.Flags().String("mitm-ca-p12", "", "Base64-encoded PKCS#12 CA")
	rootCmd.Flags().String("mitm-ca-passphrase", "", "Passphrase of the PKCS#12 CA")
	rootCmd.Flags().Bool("mitm-insecure-skip-verify", false, "Skip upstream certificate verification")

	// Bind all flags to viper using consistent key names
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("bind-address", rootCmd.Flags().Lookup("bind"))
	_ = viper.BindPFlag("port", rootCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("log-level", rootCmd.Flags().Lookup("log-level"))
	_ = viper.BindPFlag("log-dir", rootCmd.Flags().Lookup("log-dir"))
	_ = viper.BindPFlag("api-server", rootCmd.Flags().Lookup("api-server"))
	_ = viper.BindPFlag("api-server-secret", rootCmd.Flags().Lookup("api-server-secret"))
	_ = viper.BindPFlag("short-circuit-policy", rootCmd.Flags().Lookup("short-circuit-policy"))
	_ = viper.BindPFlag("strict-rules", rootCmd.Flags().Lookup("strict-rules"))
	_ = viper.BindPFlag("rules-json", rootCmd.PersistentFlags().Lookup("rules"))
	_ = viper.BindPFlag("mitm.enabled", rootCmd.Flags().Lookup("mitm"))
	_ = viper.BindPFlag("mitm.hostname", rootCmd.Flags().Lookup("mitm-hostname"))
	_ = viper.BindPFlag("mitm.default-allow", rootCmd.Flags().Lookup("mitm-default-allow"))
	_ = viper.BindPFlag("mitm.ca-p12", rootCmd.Flags().Lookup("mitm-ca-p12"))
	_ = viper.BindPFlag("mitm.ca-passphrase", rootCmd.Flags().Lookup("mitm-ca-passphrase"))
	_ = viper.BindPFlag("mitm.insecure-skip-verify", rootCmd.Flags().Lookup("mitm-insecure-skip-verify"))

	// Bind environment variables, e.g. MITMRW_MITM_HOSTNAME
	viper.SetEnvPrefix("MITMRW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("rules-json", "MITMRW_RULES")
}

func initConfig() {
	configFile := viper.GetString("config")
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.MergeInConfig(); err != nil {
			slog.Error("Failed to read config file", slog.Any("error", err))
			os.Exit(1)
		}
	}
	config.SetDefaults()
}

func runRoot(cmd *cobra.Command, args []string) error {
	showVer, _ := cmd.Flags().GetBool("version")
	if showVer {
		fmt.Printf("mitmrw version %s\n", AppVersion)
		return nil
	}

	genConfig, _ := cmd.Flags().GetBool("generate-config")
	if genConfig {
		_, err := config.GenerateTemplateConfig(true)
		if err != nil {
			return fmt.Errorf("failed to generate template config: %w", err)
		}
		fmt.Println("Template config file 'config.yaml' generated successfully.")
		return nil
	}

	cfg, err := config.BuildConfigFromViper()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	logBroadcaster := log.NewBroadcaster()
	log.SetLogConf(cfg.LogLevel, cfg.LogDir, logBroadcaster)
	log.LogHeader(AppVersion, cfg)
	slog.Info("Runtime", log.GetOSInfo()...)

	engine, err := rule.NewEngine(cfg.Rules, cfg.StrictRules)
	if err != nil {
		slog.Error("rule.NewEngine", slog.Any("error", err))
		return err
	}
	slog.Info("Rules loaded", slog.Int("count", len(engine.Rules())))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	ctx, cancel := context.WithCancel(context.Background())
	addShutdown("statistics.Stop", func() error {
		cancel()
		return nil
	})
	recorder := statistics.New()
	recorder.Run(ctx)

	h := handler.New(engine,
		handler.WithSink(handler.MultiSink{handler.LogSink{}, recorder}),
		handler.WithPolicy(cfg.ShortCircuitPolicy),
		handler.WithMetrics(m),
	)

	opts := []serverhttp.Option{
		serverhttp.WithRecorder(recorder),
		serverhttp.WithMetrics(m),
		serverhttp.WithFilter(newFilter(cfg)),
	}
	if cfg.MitM.Enabled {
		middleMan, err := newMiddleMan(cfg, m)
		if err != nil {
			slog.Error("newMiddleMan", slog.Any("error", err))
			shutdown()
			return err
		}
		opts = append(opts, serverhttp.WithMiddleMan(middleMan))
	}

	srv := serverhttp.New(cfg, h, opts...)
	addShutdown("srv.Close", srv.Close)
	if err := srv.Start(); err != nil {
		slog.Error("srv.Start", slog.Any("error", err))
		shutdown()
		return err
	}

	if cfg.APIServer != "" {
		apiServer := api.New(AppVersion, cfg, engine,
			api.WithRecorder(recorder),
			api.WithGatherer(reg),
			api.WithLogBroadcaster(logBroadcaster),
		)
		addShutdown("apiServer.Close", apiServer.Close)
		if err := apiServer.Start(); err != nil {
			slog.Error("apiServer.Start", slog.Any("error", err))
			shutdown()
			return err
		}
	}

	cleanup := make(chan os.Signal, 1)
	signal.Notify(cleanup, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM)
	for {
		s := <-cleanup
		slog.Info("Received signal", slog.String("signal", s.String()))
		switch s {
		case syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM:
			shutdown()
			return nil
		case syscall.SIGHUP:
		default:
			return nil
		}
	}
}

// newFilter applies the mitm hostname list to every CONNECT tunnel, TLS or
// plain HTTP, whether or not TLS interception is enabled. Absolute-form
// proxy requests are always eligible.
func newFilter(cfg *config.Config) filter.Filter {
	return filter.TunnelsOnly(filter.New(cfg.MitM.Hostname, cfg.MitM.DefaultAllow))
}

func newMiddleMan(cfg *config.Config, m *metrics.Metrics) (*mitm.MiddleMan, error) {
	ca, err := mitm.LoadOrGenerateCA(cfg.MitM.CAP12, cfg.MitM.CAPassphrase)
	if err != nil {
		return nil, fmt.Errorf("mitm.LoadOrGenerateCA: %w", err)
	}

	certs, err := mitm.NewCertManager(ca, 0, m)
	if err != nil {
		return nil, fmt.Errorf("mitm.NewCertManager: %w", err)
	}
	return mitm.NewMiddleMan(certs, cfg.MitM.InsecureSkipVerify), nil
}

func addShutdown(name string, fn func() error) {
	shutdownChain = append(shutdownChain, func() error {
		if err := fn(); err != nil {
			slog.Error(name, slog.Any("error", err))
			return err
		}
		return nil
	})
}

func shutdown() {
	for i := len(shutdownChain) - 1; i >= 0; i-- {
		_ = shutdownChain[i]()
	}
	shutdownChain = nil
	slog.Info("mitmrw exit")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
