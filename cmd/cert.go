package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mitmrw/mitmrw/internal/mitm"
)

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Manage the MitM CA certificate",
}

var certGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new CA and print it as base64-encoded PKCS#12",
	Long:  "Generate a new CA and print it as base64-encoded PKCS#12, ready for the mitm.ca-p12 config key or MITMRW_MITM_CA_P12.",
	RunE:  runCertGenerate,
}

var certExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print the PEM certificate of a PKCS#12 CA for clients to trust",
	RunE:  runCertExport,
}

var (
	certPassphrase string
	certP12Base64  string
	certOutputFile string
)

func init() {
	certGenerateCmd.Flags().StringVar(&certPassphrase, "passphrase", "", "Passphrase for the PKCS#12 file")
	certGenerateCmd.Flags().StringVar(&certOutputFile, "output", "", "Also write the PEM certificate to this file")

	certExportCmd.Flags().StringVar(&certP12Base64, "p12-base64", "", "Base64-encoded PKCS#12 data, defaults to mitm.ca-p12 from the config")
	certExportCmd.Flags().StringVar(&certPassphrase, "passphrase", "", "Passphrase for the PKCS#12, defaults to mitm.ca-passphrase")
	certExportCmd.Flags().StringVar(&certOutputFile, "output", "", "Write the PEM certificate to this file instead of stdout")

	certCmd.AddCommand(certGenerateCmd)
	certCmd.AddCommand(certExportCmd)
	rootCmd.AddCommand(certCmd)
}

func runCertGenerate(cmd *cobra.Command, args []string) error {
	ca, err := mitm.GenerateCA()
	if err != nil {
		return fmt.Errorf("failed to generate CA: %w", err)
	}

	p12Base64, err := ca.EncodeP12(certPassphrase)
	if err != nil {
		return fmt.Errorf("failed to encode CA as PKCS#12: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), p12Base64)

	if certOutputFile != "" {
		if err := os.WriteFile(certOutputFile, ca.CertPEM(), 0644); err != nil {
			return fmt.Errorf("failed to write PEM file: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "PEM certificate written to %s\n", certOutputFile)
	}
	return nil
}

func runCertExport(cmd *cobra.Command, args []string) error {
	p12Base64 := strings.TrimSpace(certP12Base64)
	if p12Base64 == "" {
		p12Base64 = viper.GetString("mitm.ca-p12")
	}
	passphrase := certPassphrase
	if passphrase == "" {
		passphrase = viper.GetString("mitm.ca-passphrase")
	}

	ca, err := mitm.LoadCA(p12Base64, passphrase)
	if err != nil {
		return fmt.Errorf("failed to load CA: %w", err)
	}

	pemData := ca.CertPEM()
	if certOutputFile == "" {
		_, err := cmd.OutOrStdout().Write(pemData)
		return err
	}
	if err := os.WriteFile(certOutputFile, pemData, 0644); err != nil {
		return fmt.Errorf("failed to write PEM file: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "PEM certificate written to %s\n", certOutputFile)
	return nil
}
