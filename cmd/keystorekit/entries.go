package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sensiblebit/keystorekit/internal"
	"github.com/sensiblebit/keystorekit/internal/keystore"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	storeStatus    string
	storeValidated bool
	storePassword  string

	listFormat     string
	listSubject    string
	listIssuer     string
	listCountry    string
	listStatus     string
	listKeyEntries bool

	showFormat string
)

var storeCmd = &cobra.Command{
	Use:   "store <container-id> <alias> <file>",
	Short: "Store a certificate or key entry",
	Long:  "Store the certificate chain in <file> (PEM, DER, PKCS#7, or PKCS#12) under <alias>. A private key found in the file makes it a key entry. Storing onto an existing alias leaves the container unchanged.",
	Example: `  keystorekit store 3f2a... web server.pem --status correct --validated
  keystorekit store 3f2a... root ca.der`,
	Args: cobra.ExactArgs(3),
	RunE: runStore,
}

var renameCmd = &cobra.Command{
	Use:   "rename <container-id> <old-alias> <new-alias>",
	Short: "Rename an entry",
	Args:  cobra.ExactArgs(3),
	RunE:  runRename,
}

var removeCmd = &cobra.Command{
	Use:     "remove <container-id> <alias>",
	Aliases: []string{"rm"},
	Short:   "Remove an entry",
	Args:    cobra.ExactArgs(2),
	RunE:    runRemove,
}

var listCmd = &cobra.Command{
	Use:   "list [container-id]",
	Short: "List indexed entries",
	Long:  "List index rows of one container, or of every container when no id is given. Filters match against the index without opening any keystore.",
	Example: `  keystorekit list 3f2a...
  keystorekit list --status expired --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runList,
}

var showCmd = &cobra.Command{
	Use:   "show <container-id> <alias>",
	Short: "Show the certificates and key of an entry",
	Args:  cobra.ExactArgs(2),
	RunE:  runShow,
}

func init() {
	storeCmd.Flags().StringVar(&storeStatus, "status", "unknown", "Status: correct, expired, revoked, untrusted, unknown")
	storeCmd.Flags().BoolVar(&storeValidated, "validated", false, "Mark the entry as validated")
	storeCmd.Flags().StringVarP(&storePassword, "password", "p", "", "Password of a PKCS#12 input file")

	listCmd.Flags().StringVar(&listFormat, "format", "auto", "Output format: text, json, or yaml")
	listCmd.Flags().StringVar(&listSubject, "subject", "", "Match subject substring")
	listCmd.Flags().StringVar(&listIssuer, "issuer", "", "Match issuer substring")
	listCmd.Flags().StringVar(&listCountry, "country", "", "Match subject country code")
	listCmd.Flags().StringVar(&listStatus, "status", "", "Match status")
	listCmd.Flags().BoolVar(&listKeyEntries, "keys", false, "Only entries with a private key")

	showCmd.Flags().StringVar(&showFormat, "format", "auto", "Output format: text, json, or yaml")
}

func runStore(cmd *cobra.Command, args []string) error {
	containerID, alias, path := args[0], args[1], args[2]
	status, err := keystore.ParseStatus(storeStatus)
	if err != nil {
		return err
	}
	material, err := internal.LoadMaterialFile(path, storePassword)
	if err != nil {
		return err
	}

	svc, closeDB, err := openService()
	if err != nil {
		return err
	}
	defer closeDB()

	return svc.StoreChain(cmd.Context(), alias, material.Chain, material.Key, status, storeValidated, containerID)
}

func runRename(cmd *cobra.Command, args []string) error {
	svc, closeDB, err := openService()
	if err != nil {
		return err
	}
	defer closeDB()

	err = svc.UpdateCertificateAlias(cmd.Context(), args[1], args[2], args[0])
	var dup *keystore.DuplicateAliasError
	if errors.As(err, &dup) {
		return fmt.Errorf("alias %q already exists in container %s", dup.Alias, dup.ContainerID)
	}
	return err
}

func runRemove(cmd *cobra.Command, args []string) error {
	svc, closeDB, err := openService()
	if err != nil {
		return err
	}
	defer closeDB()

	return svc.RemoveEntry(cmd.Context(), args[1], args[0])
}

func runList(cmd *cobra.Command, args []string) error {
	q := keystore.IndexQuery{
		Subject: listSubject,
		Issuer:  listIssuer,
		Country: listCountry,
	}
	if len(args) == 1 {
		q.ContainerID = args[0]
	}
	if listStatus != "" {
		status, err := keystore.ParseStatus(listStatus)
		if err != nil {
			return err
		}
		q.Status = status
	}
	if listKeyEntries {
		q.HasPrivateKey = &listKeyEntries
	}

	svc, closeDB, err := openService()
	if err != nil {
		return err
	}
	defer closeDB()

	rows, err := svc.SearchIndex(cmd.Context(), q)
	if err != nil {
		return err
	}

	switch format := outputFormat(listFormat); format {
	case "text":
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CONTAINER\tALIAS\tKEY\tSTATUS\tVALIDATED\tNOT AFTER\tSUBJECT")
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%t\t%s\t%s\n",
				r.ContainerID, r.Alias, r.HasPrivateKey, r.Status, r.Validated,
				r.NotAfter.UTC().Format(time.DateOnly), r.Subject)
		}
		return w.Flush()
	case "json":
		return json.NewEncoder(os.Stdout).Encode(rows)
	case "yaml":
		return yaml.NewEncoder(os.Stdout).Encode(rows)
	default:
		return fmt.Errorf("unsupported output format %q (use text, json, or yaml)", format)
	}
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	containerID, alias := args[0], args[1]

	svc, closeDB, err := openService()
	if err != nil {
		return err
	}
	defer closeDB()

	chain, err := svc.GetCertificateChain(ctx, alias, containerID)
	if err != nil {
		return err
	}
	if chain == nil {
		return fmt.Errorf("alias %q not found in container %s", alias, containerID)
	}
	key, err := svc.GetPrivateKey(ctx, alias, containerID)
	if err != nil {
		return err
	}

	output, err := internal.FormatInspectResults(internal.InspectEntry(alias, chain, key), outputFormat(showFormat))
	if err != nil {
		return err
	}
	fmt.Print(output)
	return nil
}
