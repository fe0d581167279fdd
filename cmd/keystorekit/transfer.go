package main

import (
	"fmt"
	"os"

	"github.com/sensiblebit/keystorekit/internal/keystore"
	"github.com/spf13/cobra"
)

var (
	exportFormat   string
	exportOut      string
	exportPassword string
	exportKey      bool

	importPassword  string
	importStatus    string
	importValidated bool
)

var exportCmd = &cobra.Command{
	Use:   "export <container-id> [alias]",
	Short: "Export an entry or a whole container",
	Long:  "Export an entry as PKCS#12 or PEM, or every certificate of a container as PKCS#7 or, with p12 and no alias, as a PKCS#12 trust store.",
	Example: `  keystorekit export 3f2a... web --format p12 -o web.p12
  keystorekit export 3f2a... web --format pem --key
  keystorekit export 3f2a... --format p7b -o all.p7b
  keystorekit export 3f2a... --format p12 -o truststore.p12`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runExport,
}

var importCmd = &cobra.Command{
	Use:   "import <container-id> <alias> <file.p12>",
	Short: "Import a PKCS#12 bundle as a key entry",
	Args:  cobra.ExactArgs(3),
	RunE:  runImport,
}

var reindexCmd = &cobra.Command{
	Use:   "reindex <container-id>",
	Short: "Rebuild the index rows of a container from its keystore",
	Args:  cobra.ExactArgs(1),
	RunE:  runReindex,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "pem", "Export format: pem, p12, or p7b")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default: stdout)")
	exportCmd.Flags().StringVarP(&exportPassword, "password", "p", "", "PKCS#12 export password (prompted when omitted)")
	exportCmd.Flags().BoolVar(&exportKey, "key", false, "Include the private key in PEM output")

	importCmd.Flags().StringVarP(&importPassword, "password", "p", "", "PKCS#12 password (prompted when omitted)")
	importCmd.Flags().StringVar(&importStatus, "status", "unknown", "Status: correct, expired, revoked, untrusted, unknown")
	importCmd.Flags().BoolVar(&importValidated, "validated", false, "Mark the entry as validated")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	containerID := args[0]
	alias := ""
	if len(args) == 2 {
		alias = args[1]
	}
	if exportFormat == "pem" && alias == "" {
		return fmt.Errorf("format %s requires an alias", exportFormat)
	}

	svc, closeDB, err := openService()
	if err != nil {
		return err
	}
	defer closeDB()

	var data []byte
	switch exportFormat {
	case "pem":
		data, err = svc.ExportPEM(ctx, alias, containerID, exportKey)
	case "p12":
		pw, perr := readPassword(exportPassword, "Export password: ")
		if perr != nil {
			return perr
		}
		if alias == "" {
			data, err = svc.ExportTrustStore(ctx, containerID, string(pw))
		} else {
			data, err = svc.ExportPKCS12(ctx, alias, containerID, string(pw))
		}
	case "p7b":
		data, err = svc.ExportPKCS7(ctx, containerID)
	default:
		return fmt.Errorf("unsupported export format %q (use pem, p12, or p7b)", exportFormat)
	}
	if err != nil {
		return err
	}

	if exportOut == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(exportOut, data, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", exportOut, err)
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	containerID, alias, path := args[0], args[1], args[2]
	status, err := keystore.ParseStatus(importStatus)
	if err != nil {
		return err
	}
	pfx, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	pw, err := readPassword(importPassword, "PKCS#12 password: ")
	if err != nil {
		return err
	}

	svc, closeDB, err := openService()
	if err != nil {
		return err
	}
	defer closeDB()

	return svc.ImportPKCS12(cmd.Context(), alias, pfx, string(pw), status, importValidated, containerID)
}

func runReindex(cmd *cobra.Command, args []string) error {
	svc, closeDB, err := openService()
	if err != nil {
		return err
	}
	defer closeDB()

	res, err := svc.Reindex(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("added %d, updated %d, removed %d\n", res.Added, res.Updated, res.Removed)
	return nil
}
