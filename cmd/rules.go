package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mitmrw/mitmrw/internal/config"
	"github.com/mitmrw/mitmrw/internal/rule"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect the configured rules",
}

var rulesCheckCmd = &cobra.Command{
	Use:   "check [config-file]",
	Short: "Compile every rule and print the result, failing on the first invalid rule",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRulesCheck,
}

var rulesMatchCmd = &cobra.Command{
	Use:   "match URL",
	Short: "Print the rules that would match a request",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesMatch,
}

var (
	matchMethod     string
	matchHeaders    []string
	matchRemoteAddr string
)

func init() {
	rulesMatchCmd.Flags().StringVarP(&matchMethod, "method", "X", http.MethodGet, "Request method")
	rulesMatchCmd.Flags().StringArrayVarP(&matchHeaders, "header", "H", nil, "Request header, e.g. 'User-Agent: curl/8.0'")
	rulesMatchCmd.Flags().StringVar(&matchRemoteAddr, "remote-addr", "127.0.0.1:50000", "Client address")

	rulesCmd.AddCommand(rulesCheckCmd)
	rulesCmd.AddCommand(rulesMatchCmd)
	rootCmd.AddCommand(rulesCmd)
}

// loadEngine builds the config from viper, merging file first when given,
// and compiles it strictly.
func loadEngine(file string) (*rule.Engine, error) {
	if file != "" {
		viper.SetConfigFile(file)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	cfg, err := config.BuildConfigFromViper()
	if err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	engine, err := rule.NewEngine(cfg.Rules, true)
	if err != nil {
		return nil, fmt.Errorf("invalid rule: %w", err)
	}
	return engine, nil
}

func runRulesCheck(cmd *cobra.Command, args []string) error {
	var file string
	if len(args) > 0 {
		file = args[0]
	}
	engine, err := loadEngine(file)
	if err != nil {
		return err
	}
	if err := printRules(cmd.OutOrStdout(), engine.Rules()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%d rules OK\n", len(engine.Rules()))
	return nil
}

func runRulesMatch(cmd *cobra.Command, args []string) error {
	engine, err := loadEngine("")
	if err != nil {
		return err
	}

	req, err := http.NewRequest(strings.ToUpper(matchMethod), args[0], nil)
	if err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	req.RemoteAddr = matchRemoteAddr
	for _, h := range matchHeaders {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return fmt.Errorf("invalid header %q, want 'Name: value'", h)
		}
		req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	matched := engine.Match(req)
	if len(matched) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "no rule matches")
	}
	return printRules(cmd.OutOrStdout(), matched)
}

func printRules[T any](w io.Writer, rules []T) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	for _, r := range rules {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to encode rule: %w", err)
		}
	}
	return nil
}
