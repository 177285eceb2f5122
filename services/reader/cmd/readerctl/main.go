package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"readerapp/pkg/domain"
	"readerapp/pkg/store"
	"readerapp/services/reader/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type catalogFile struct {
	Books []domain.Book `yaml:"books"`
}

type importReport struct {
	Added    int
	Existing int
	Rejected int
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:          "readerctl",
		Short:        "Operate on the reader store directly",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", config.Path(), "path to the reader config file")

	open := func(ctx context.Context) (store.KV, error) {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return nil, err
		}
		if cfg.StoreDriver != config.StoreDriverRedis {
			return nil, errors.New("readerctl needs storeDriver redis; the memory store lives inside the server process")
		}
		timeout, err := config.ParseStoreTimeout(cfg.StoreTimeout)
		if err != nil {
			return nil, err
		}
		kv, err := store.NewRedisKV(store.RedisKVConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB, Timeout: timeout})
		if err != nil {
			return nil, err
		}
		if err := kv.Ping(ctx); err != nil {
			_ = kv.Close()
			return nil, fmt.Errorf("ping store: %w", err)
		}
		return kv, nil
	}

	root.AddCommand(&cobra.Command{
		Use:   "import <catalog.yaml>",
		Short: "Add every book of a YAML catalog file, skipping existing ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			kv, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer kv.Close()

			report, err := importBooks(cmd.Context(), store.NewCatalogStore(kv), f, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %d, existing %d, rejected %d\n", report.Added, report.Existing, report.Rejected)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "search <keyword>",
		Short: "Print books whose name or author contains keyword",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kv, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer kv.Close()
			return printSearch(cmd.Context(), store.NewCatalogStore(kv), args[0], cmd.OutOrStdout())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "ping",
		Short: "Check that the configured store answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()
			kv, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer kv.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "ok in %s\n", time.Since(start).Round(time.Millisecond))
			return nil
		},
	})
	return root
}

func importBooks(ctx context.Context, catalog *store.CatalogStore, r io.Reader, warn io.Writer) (importReport, error) {
	var file catalogFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return importReport{}, fmt.Errorf("parse catalog: %w", err)
	}
	var report importReport
	for _, book := range file.Books {
		err := catalog.Add(ctx, book)
		switch domain.CodeOf(err) {
		case domain.CodeOK:
			report.Added++
		case domain.CodeAlreadyExists:
			report.Existing++
		case domain.CodeStoreError:
			return report, err
		default:
			report.Rejected++
			fmt.Fprintf(warn, "skip %q by %q: %s\n", book.Name, book.Author, domain.MessageOf(err))
		}
	}
	return report, nil
}

func printSearch(ctx context.Context, catalog *store.CatalogStore, keyword string, w io.Writer) error {
	books, err := catalog.Search(ctx, keyword)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(books)
}
