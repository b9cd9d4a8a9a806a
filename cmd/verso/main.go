package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"verso/client"
	"verso/internal/config"
	"verso/internal/logging"
	"verso/internal/server"
	"verso/internal/service"

	"github.com/fatih/color"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var logger = logging.Nop()

var (
	serverURL  string
	configPath string
	repoHome   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "verso",
	Short: "Verso serves the history of a git repository",
	Long: `Verso indexes every version of every file in a git repository and answers
queries about them: which versions a path had, what an object contains and
how it differs from its neighbours in history.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !verbose {
			return nil
		}
		l, err := logging.NewLogger("debug", "development")
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		logger = l
		return nil
	},
}

// openBackend talks to --server when set and opens the repository in
// process otherwise.
func openBackend(ctx context.Context) (backend, func() error, error) {
	if serverURL != "" {
		return client.New(serverURL), func() error { return nil }, nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	srv, err := server.Open(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	b := newLocalBackend(srv)
	return b, b.Close, nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if repoHome != "" {
		if cfg.SrvHome == cfg.RepoHome {
			cfg.SrvHome = repoHome
		}
		cfg.RepoHome = repoHome
	}
	return cfg, nil
}

func rangeFlags(cmd *cobra.Command) {
	cmd.Flags().String("from", "", "first time index to include")
	cmd.Flags().String("to", "", "last time index to include")
}

func readRange(cmd *cobra.Command) (client.Range, error) {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	start, err := client.ParseBound(from)
	if err != nil {
		return client.Range{}, err
	}
	end, err := client.ParseBound(to)
	if err != nil {
		return client.Range{}, err
	}
	return client.Range{Start: start, End: end}, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "query a running server instead of opening the repository")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVarP(&repoHome, "repo", "r", "", "repository to open, overrides the config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stderr")

	var serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the repository over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			l, err := logging.NewLogger(cfg.LogLevel, cfg.Environment)
			if err != nil {
				return fmt.Errorf("initializing logger: %w", err)
			}
			defer l.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := server.Open(ctx, cfg, l)
			if err != nil {
				return err
			}
			defer srv.Close()
			return srv.ListenAndServe(ctx)
		},
	}

	var dirCmd = &cobra.Command{
		Use:   "dir",
		Short: "List every version of every file, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, closeFn, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			entries, err := b.Directory(cmd.Context())
			if err != nil {
				return fmt.Errorf("listing versions: %w", err)
			}

			id := color.New(color.FgYellow)
			for _, e := range entries {
				id.Print(short(e.ContentID))
				fmt.Printf(" %s %8d %-6s %s\n", formatTime(e.Time), e.Length, e.Encoding, e.Path)
			}
			return nil
		},
	}

	var versionsCmd = &cobra.Command{
		Use:   "versions <path>",
		Short: "List the versions of a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := readRange(cmd)
			if err != nil {
				return err
			}
			b, closeFn, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			list, err := b.Versions(cmd.Context(), args[0], r)
			if err != nil {
				return fmt.Errorf("listing versions of %s: %w", args[0], err)
			}

			id := color.New(color.FgYellow)
			for _, v := range list.Versions {
				id.Print(v.ID)
				fmt.Printf(" %s %s\n", formatTime(v.Time), firstLine(v.Message))
			}
			return nil
		},
	}
	rangeFlags(versionsCmd)

	var objectCmd = &cobra.Command{
		Use:   "object <id>",
		Short: "Print the content of an object",
		Long:  `Prints an object's content. --from and --to slice it by character for text and by byte otherwise.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := readRange(cmd)
			if err != nil {
				return err
			}
			b, closeFn, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			body, err := b.Object(cmd.Context(), args[0], r)
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			_, err = os.Stdout.Write(body)
			return err
		},
	}
	rangeFlags(objectCmd)

	var changesCmd = &cobra.Command{
		Use:   "changes <id>",
		Short: "Show where an object sits in history and what changed around it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			unified, _ := cmd.Flags().GetBool("unified")

			b, closeFn, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			env, err := b.Envelope(cmd.Context(), args[0], unified)
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}

			if !unified {
				printEnvelope(os.Stdout, env)
				return nil
			}

			var older string
			if env.PreviousVersion.ID != "" {
				body, err := b.Object(cmd.Context(), env.PreviousVersion.ID, client.Range{})
				if err != nil {
					return fmt.Errorf("reading %s: %w", env.PreviousVersion.ID, err)
				}
				older = string(body)
			}
			diff, err := unifiedDiff(env.PreviousVersion.ID, env.ID, older, env.Body)
			if err != nil {
				return fmt.Errorf("generating diff: %w", err)
			}
			if diff == "" {
				fmt.Println("No changes")
				return nil
			}
			printColoredDiff(diff)
			return nil
		},
	}
	changesCmd.Flags().BoolP("unified", "u", false, "print a unified diff against the previous version")

	var metaCmd = &cobra.Command{
		Use:   "meta",
		Short: "Show repository metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")

			b, closeFn, err := openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			meta, err := b.Metadata(cmd.Context())
			if err != nil {
				return fmt.Errorf("reading metadata: %w", err)
			}
			return writeMetadata(os.Stdout, meta, output)
		},
	}
	metaCmd.Flags().StringP("output", "o", "yaml", "output format (yaml or json)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dirCmd)
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(objectCmd)
	rootCmd.AddCommand(changesCmd)
	rootCmd.AddCommand(metaCmd)
}

func short(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func formatTime(t int64) string {
	return time.Unix(t, 0).Format("2006-01-02 15:04:05")
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

func printEnvelope(w io.Writer, env *service.Envelope) {
	header := color.New(color.FgCyan)
	header.Fprintf(w, "object %s\n", env.ID)
	fmt.Fprintf(w, "length %d %s\n", env.Length, env.Indices)
	for _, n := range env.Names {
		fmt.Fprintf(w, "  %s  %s  %s\n", formatTime(n.Time), short(n.CommitID), n.Path)
	}

	if env.PreviousVersion.ID != "" {
		header.Fprintf(w, "previous %s\n", env.PreviousVersion.ID)
		for _, c := range env.PreviousVersion.Changes {
			fmt.Fprintf(w, "  %s -> %s\n", c.From, c.To)
		}
	}
	if env.NextVersion.ID != "" {
		header.Fprintf(w, "next %s\n", env.NextVersion.ID)
		for _, c := range env.NextVersion.Changes {
			fmt.Fprintf(w, "  %s -> %s\n", c.From, c.To)
		}
	}
}

func unifiedDiff(olderID, newerID, older, newer string) (string, error) {
	from := olderID
	if from == "" {
		from = "/dev/null"
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(older),
		B:        difflib.SplitLines(newer),
		FromFile: from,
		ToFile:   newerID,
		Context:  3,
	})
}

func writeMetadata(w io.Writer, meta *service.Metadata, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(meta)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(meta)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func printColoredDiff(diff string) {
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	header := color.New(color.FgCyan)

	for _, line := range strings.Split(diff, "\n") {
		if len(line) == 0 {
			continue
		}

		switch {
		case strings.HasPrefix(line, "@@"):
			header.Println(line)
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			fmt.Println(line)
		case strings.HasPrefix(line, "+"):
			added.Println(line)
		case strings.HasPrefix(line, "-"):
			removed.Println(line)
		default:
			fmt.Println(line)
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Debug("command failed", zap.Error(err))
		os.Exit(1)
	}
}
