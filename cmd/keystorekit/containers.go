package main

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sensiblebit/keystorekit"
	"github.com/sensiblebit/keystorekit/internal"
	"github.com/sensiblebit/keystorekit/internal/keystore"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	createType     string
	createPassword string
	createFrom     string
	containersFmt  string
)

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an empty keystore container",
	Long:  "Create a new keystore container. With --from, the entries of an existing keystore file are copied into it and indexed with status UNKNOWN.",
	Example: `  keystorekit create payments --db ks.db
  keystorekit create legacy --from truststore.jks --password changeit`,
	Args: cobra.ExactArgs(1),
	RunE: runCreate,
}

var containersCmd = &cobra.Command{
	Use:   "containers",
	Short: "List keystore containers",
	Args:  cobra.NoArgs,
	RunE:  runContainers,
}

func init() {
	createCmd.Flags().StringVarP(&createType, "type", "t", "", "Keystore type (default from config)")
	createCmd.Flags().StringVarP(&createPassword, "password", "p", "", "Keystore password (prompted when omitted)")
	createCmd.Flags().StringVar(&createFrom, "from", "", "Existing keystore file to copy entries from")
	containersCmd.Flags().StringVar(&containersFmt, "format", "auto", "Output format: text, json, or yaml")
}

func runCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, closeDB, err := openService()
	if err != nil {
		return err
	}
	defer closeDB()

	password, err := readPassword(createPassword, "Keystore password: ")
	if err != nil {
		return err
	}

	typ := createType
	var source *keystorekit.EntrySet
	if createFrom != "" {
		data, err := os.ReadFile(createFrom)
		if err != nil {
			return fmt.Errorf("reading %s: %w", createFrom, err)
		}
		if typ == "" {
			typ = keystorekit.SniffType(data)
		}
		source, err = keystorekit.Decode(data, typ, password)
		if err != nil {
			return fmt.Errorf("opening %s: %w", createFrom, err)
		}
	}
	if typ == "" {
		typ = cfg.DefaultType
	}

	c, err := svc.CreateContainer(ctx, args[0], typ, password)
	if err != nil {
		return err
	}
	if source != nil {
		if err := copyEntries(ctx, svc, source, c.ID); err != nil {
			return err
		}
	}
	fmt.Println(c.ID)
	return nil
}

// copyEntries stores every entry of set into the container.
func copyEntries(ctx context.Context, svc *keystore.Service, set *keystorekit.EntrySet, containerID string) error {
	for _, alias := range set.Aliases() {
		e := set.Get(alias)
		chain, err := e.ParseChain()
		if err != nil {
			return fmt.Errorf("parsing entry %q: %w", alias, err)
		}
		var key any
		if e.IsKeyEntry() {
			key, err = x509.ParsePKCS8PrivateKey(e.PrivateKey)
			if err != nil {
				return fmt.Errorf("parsing key of entry %q: %w", alias, err)
			}
		}
		if err := svc.StoreChain(ctx, alias, chain, key, keystore.StatusUnknown, false, containerID); err != nil {
			return fmt.Errorf("copying entry %q: %w", alias, err)
		}
		slog.Debug("copied entry", "alias", alias, "container", containerID)
	}
	return nil
}

type containerSummary struct {
	ID      string    `json:"id" yaml:"id"`
	Name    string    `json:"name" yaml:"name"`
	Type    string    `json:"type" yaml:"type"`
	Version int64     `json:"version" yaml:"version"`
	Entries int       `json:"entries" yaml:"entries"`
	Status  string    `json:"status,omitempty" yaml:"status,omitempty"`
	Updated time.Time `json:"updated_at" yaml:"updated_at"`
}

func runContainers(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	svc, closeDB, err := openService()
	if err != nil {
		return err
	}
	defer closeDB()

	containers, err := svc.ListContainers(ctx)
	if err != nil {
		return err
	}
	summaries := make([]containerSummary, 0, len(containers))
	for _, c := range containers {
		rows, err := svc.ListIndexRows(ctx, c.ID)
		if err != nil {
			return err
		}
		counts := make(map[string]int)
		for _, r := range rows {
			counts[string(r.Status)]++
		}
		summaries = append(summaries, containerSummary{
			ID:      c.ID,
			Name:    c.Name,
			Type:    c.Type,
			Version: c.Version,
			Entries: len(rows),
			Status:  strings.TrimSpace(internal.StatusAnnotation(counts)),
			Updated: c.UpdatedAt,
		})
	}

	switch format := outputFormat(containersFmt); format {
	case "text":
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tVERSION\tENTRIES")
		for _, s := range summaries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d%s\n", s.ID, s.Name, s.Type, s.Version, s.Entries, prefixSpace(s.Status))
		}
		return w.Flush()
	case "json":
		return json.NewEncoder(os.Stdout).Encode(summaries)
	case "yaml":
		return yaml.NewEncoder(os.Stdout).Encode(summaries)
	default:
		return fmt.Errorf("unsupported output format %q (use text, json, or yaml)", format)
	}
}

func prefixSpace(s string) string {
	if s == "" {
		return ""
	}
	return " " + s
}
