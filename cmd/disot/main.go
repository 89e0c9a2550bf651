// cmd/disot/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"disot/internal/api"
	"disot/internal/hash"
	"disot/internal/ledger"
	"disot/internal/node"
	"disot/internal/watch"
)

var (
	logger     = zap.NewNop()
	configPath string
	serverURL  string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "disot",
	Short: "disot stores content by hash and keeps a signed ledger of entries",
	Long: `disot is a content-addressable store with a ledger of signed,
timestamped entries that reference stored content. Commands run against
local storage unless --server points at a running disot server.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !verbose {
			return nil
		}
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
}

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
)

// withBackend opens the configured backend for the duration of fn.
func withBackend(cmd *cobra.Command, fn func(ctx context.Context, b backend) error) error {
	ctx := cmd.Context()
	b, err := openBackend(ctx, serverURL, configPath, logger)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(ctx, b)
}

// privateKey reads --key, falling back to DISOT_PRIVATE_KEY.
func privateKey(cmd *cobra.Command) (string, error) {
	key, _ := cmd.Flags().GetString("key")
	if key == "" {
		key = os.Getenv("DISOT_PRIVATE_KEY")
	}
	if key == "" {
		return "", fmt.Errorf("a private key is required (--key or DISOT_PRIVATE_KEY)")
	}
	return key, nil
}

// checkTerminalOutput refuses to dump non-text content onto a terminal.
func checkTerminalOutput(isTerminal bool, data []byte) error {
	if isTerminal && !utf8.Valid(data) {
		return fmt.Errorf("refusing to write binary content to a terminal; use --output")
	}
	return nil
}

func printEntry(e *ledger.Entry) {
	fmt.Printf("%s %s\n", yellow("entry"), e.ID)
	fmt.Printf("  type:      %s\n", e.Type)
	fmt.Printf("  content:   %s\n", e.ContentHash)
	fmt.Printf("  signer:    %s\n", e.Signature.PublicKey)
	fmt.Printf("  timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	for k, v := range e.Metadata {
		if k == "metadataContent" {
			continue
		}
		fmt.Printf("  %s: %v\n", k, v)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default config/config.<DISOT_ENV>.json)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "use a disot server at this URL instead of local storage")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")

	var keygenCmd = &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, b backend) error {
				keys, err := b.GenerateKeys(ctx)
				if err != nil {
					return fmt.Errorf("generating keys: %w", err)
				}
				fmt.Printf("public key:  %s\n", green(keys.PublicKey))
				fmt.Printf("private key: %s\n", red(keys.PrivateKey))
				fmt.Println("  (keep the private key secret; disot does not store it)")
				return nil
			})
		},
	}

	var storeCmd = &cobra.Command{
		Use:   "store <file>",
		Short: "Store a file and print its content hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			return withBackend(cmd, func(ctx context.Context, b backend) error {
				stored, err := b.StoreContent(ctx, data, filepath.Base(args[0]))
				if err != nil {
					return fmt.Errorf("storing content: %w", err)
				}
				fmt.Printf("%s %s\n", green("stored"), stored.Hash)
				fmt.Printf("  size: %d bytes, type: %s, cid: %s\n",
					stored.Metadata.Size, stored.Metadata.MimeType, stored.Metadata.CID)
				return nil
			})
		},
	}

	var getCmd = &cobra.Command{
		Use:   "get <hash>",
		Short: "Write stored content to stdout or a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("output")
			return withBackend(cmd, func(ctx context.Context, b backend) error {
				data, err := b.GetContent(ctx, args[0])
				if err != nil {
					return fmt.Errorf("retrieving content: %w", err)
				}
				if out == "" {
					if err := checkTerminalOutput(term.IsTerminal(int(os.Stdout.Fd())), data); err != nil {
						return err
					}
					_, err = os.Stdout.Write(data)
					return err
				}
				return os.WriteFile(out, data, 0644)
			})
		},
	}
	getCmd.Flags().StringP("output", "o", "", "write to file instead of stdout")

	var lsCmd = &cobra.Command{
		Use:   "ls",
		Short: "List stored content",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, b backend) error {
				items, err := b.ListContent(ctx)
				if err != nil {
					return fmt.Errorf("listing content: %w", err)
				}
				if len(items) == 0 {
					fmt.Println("No content stored")
					return nil
				}
				for _, item := range items {
					name := item.Metadata.Name
					if name == "" {
						name = "-"
					}
					fmt.Printf("%s  %8d  %-24s %s\n", cyan(item.Hash.Value[:12]), item.Metadata.Size, item.Metadata.MimeType, name)
				}
				return nil
			})
		},
	}

	var entryCmd = &cobra.Command{
		Use:   "entry",
		Short: "Work with ledger entries",
	}

	var createEntryCmd = &cobra.Command{
		Use:   "create [file]",
		Short: "Create a signed entry for a file or an existing hash",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := privateKey(cmd)
			if err != nil {
				return err
			}
			entryType, _ := cmd.Flags().GetString("type")
			hashArg, _ := cmd.Flags().GetString("hash")
			pairs, _ := cmd.Flags().GetStringToString("meta")

			req := api.CreateEntryRequest{Type: ledger.EntryType(entryType), PrivateKey: key}
			if len(pairs) > 0 {
				req.Metadata = make(map[string]any, len(pairs))
				for k, v := range pairs {
					req.Metadata[k] = v
				}
			}
			switch {
			case len(args) == 1 && hashArg == "":
				data, err := os.ReadFile(args[0])
				if err != nil {
					return fmt.Errorf("reading file: %w", err)
				}
				req.Content, req.Name = data, filepath.Base(args[0])
			case len(args) == 0 && hashArg != "":
				h, err := hash.Parse(hashArg)
				if err != nil {
					return err
				}
				req.ContentHash = &h
			default:
				return fmt.Errorf("give either a file or --hash")
			}

			return withBackend(cmd, func(ctx context.Context, b backend) error {
				e, err := b.CreateEntry(ctx, req)
				if err != nil {
					return fmt.Errorf("creating entry: %w", err)
				}
				printEntry(e)
				return nil
			})
		},
	}
	createEntryCmd.Flags().StringP("type", "t", string(ledger.TypeDocument), "entry type (document, image, blog_post, signature, metadata)")
	createEntryCmd.Flags().String("hash", "", "reference already stored content instead of a file")
	createEntryCmd.Flags().StringP("key", "k", "", "private key")
	createEntryCmd.Flags().StringToString("meta", nil, "metadata key=value pairs")

	var metaEntryCmd = &cobra.Command{
		Use:   "meta",
		Short: "Create a metadata entry, optionally as a new version of another",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := privateKey(cmd)
			if err != nil {
				return err
			}
			title, _ := cmd.Flags().GetString("title")
			version, _ := cmd.Flags().GetString("version")
			previous, _ := cmd.Flags().GetString("previous")
			refs, _ := cmd.Flags().GetStringSlice("ref")
			tags, _ := cmd.Flags().GetStringSlice("tag")

			mc := ledger.MetadataContent{Title: title, Tags: tags}
			if version != "" || previous != "" {
				mc.Version = &ledger.VersionInfo{Version: version, PreviousVersion: previous}
			}
			for _, ref := range refs {
				// <hash>=<relationship>
				raw, rel, _ := strings.Cut(ref, "=")
				h, err := hash.Parse(raw)
				if err != nil {
					return fmt.Errorf("reference %q: %w", ref, err)
				}
				mc.References = append(mc.References, ledger.ContentReference{Hash: h, Relationship: rel})
			}

			return withBackend(cmd, func(ctx context.Context, b backend) error {
				e, err := b.CreateMetadataEntry(ctx, mc, key)
				if err != nil {
					return fmt.Errorf("creating metadata entry: %w", err)
				}
				printEntry(e)
				return nil
			})
		},
	}
	metaEntryCmd.Flags().String("title", "", "title")
	metaEntryCmd.Flags().String("version", "", "version label")
	metaEntryCmd.Flags().String("previous", "", "entry id of the previous version")
	metaEntryCmd.Flags().StringSlice("ref", nil, "content reference as <hash>=<relationship>")
	metaEntryCmd.Flags().StringSlice("tag", nil, "tag")
	metaEntryCmd.Flags().StringP("key", "k", "", "private key")

	var getEntryCmd = &cobra.Command{
		Use:   "get <id>",
		Short: "Show an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, b backend) error {
				e, err := b.GetEntry(ctx, args[0])
				if err != nil {
					return fmt.Errorf("getting entry: %w", err)
				}
				printEntry(e)
				return nil
			})
		},
	}

	var listEntriesCmd = &cobra.Command{
		Use:   "list",
		Short: "List entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			entryType, _ := cmd.Flags().GetString("type")
			pub, _ := cmd.Flags().GetString("public-key")
			since, _ := cmd.Flags().GetDuration("since")

			filter := ledger.Filter{Type: ledger.EntryType(entryType), PublicKey: pub}
			if since > 0 {
				filter.From = time.Now().Add(-since)
			}

			return withBackend(cmd, func(ctx context.Context, b backend) error {
				entries, err := b.ListEntries(ctx, filter)
				if err != nil {
					return fmt.Errorf("listing entries: %w", err)
				}
				if len(entries) == 0 {
					fmt.Println("No entries found")
					return nil
				}
				for _, e := range entries {
					fmt.Printf("%s  %-10s %s  %s\n",
						yellow(e.ID), e.Type, e.Timestamp.Format(time.RFC3339), cyan(e.ContentHash.Value[:12]))
				}
				return nil
			})
		},
	}
	listEntriesCmd.Flags().StringP("type", "t", "", "only entries of this type")
	listEntriesCmd.Flags().String("public-key", "", "only entries signed by this key")
	listEntriesCmd.Flags().Duration("since", 0, "only entries newer than this (e.g. 24h)")

	var verifyEntryCmd = &cobra.Command{
		Use:   "verify <id>",
		Short: "Check an entry's signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, b backend) error {
				ok, err := b.VerifyEntry(ctx, args[0])
				if err != nil {
					return fmt.Errorf("verifying entry: %w", err)
				}
				if !ok {
					fmt.Printf("%s %s\n", red("✗ invalid"), args[0])
					return fmt.Errorf("entry %s failed verification", args[0])
				}
				fmt.Printf("%s %s\n", green("✓ valid"), args[0])
				return nil
			})
		},
	}

	var historyCmd = &cobra.Command{
		Use:   "history <id>",
		Short: "Show the version chain of a metadata entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, func(ctx context.Context, b backend) error {
				history, err := b.VersionHistory(ctx, args[0])
				if err != nil {
					return fmt.Errorf("getting history: %w", err)
				}
				for i, id := range history {
					marker := "  "
					if i == 0 {
						marker = green("* ")
					}
					fmt.Printf("%s%s\n", marker, id)
				}
				return nil
			})
		},
	}

	var watchCmd = &cobra.Command{
		Use:   "watch <dir>",
		Short: "Store files as they change and create entries for them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL != "" {
				return fmt.Errorf("watch runs against local storage only")
			}
			key, err := privateKey(cmd)
			if err != nil {
				return err
			}
			scan, _ := cmd.Flags().GetBool("scan")

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			n, err := node.New(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer n.Close()

			w, err := watch.New(args[0], n.Ledger, n.Hasher, watch.Options{
				PrivateKey:  key,
				InitialScan: scan,
				OnEntry: func(path string, e *ledger.Entry) {
					fmt.Printf("%s %s -> %s\n", green("+"), path, yellow(e.ID))
				},
			}, logger)
			if err != nil {
				return err
			}
			defer w.Close()

			fmt.Printf("Watching %s (Ctrl-C to stop)\n", args[0])
			if err := w.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	watchCmd.Flags().StringP("key", "k", "", "private key")
	watchCmd.Flags().Bool("scan", false, "ingest files already in the directory")

	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(entryCmd)
	rootCmd.AddCommand(watchCmd)

	entryCmd.AddCommand(createEntryCmd)
	entryCmd.AddCommand(metaEntryCmd)
	entryCmd.AddCommand(getEntryCmd)
	entryCmd.AddCommand(listEntriesCmd)
	entryCmd.AddCommand(verifyEntryCmd)
	entryCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Println(red(err))
		os.Exit(1)
	}
}
