// cmd/archgit/main.go
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"archgit/internal/config"
	"archgit/internal/diff"
	apperrors "archgit/internal/errors"
	"archgit/internal/index"
	"archgit/internal/logging"
	"archgit/internal/repo"
	"archgit/internal/safe"
	"archgit/internal/stage"
	"archgit/internal/statcache"
	"archgit/internal/status"
	"archgit/internal/watch"
	"archgit/shared/types"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app carries what every command needs once flags are parsed.
type app struct {
	configPath string
	rootDir    string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "archgit",
		Short: "archgit is a minimal content-addressed version control tool",
		Long: `archgit stores file contents as compressed, content-addressed objects,
keeps a flat staging index and reports working-tree status against it.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().StringVarP(&a.rootDir, "root", "C", "", "run as if started in this directory")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	initCmd := &cobra.Command{
		Use:   "init <name>",
		Short: "Create an empty repository in a new directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := a.baseDir()
			if err != nil {
				return err
			}

			r, err := repo.Initialize(filepath.Join(base, args[0]), repo.Options{
				MetadataDir:   a.cfg.Repository.MetadataDir,
				DefaultBranch: a.cfg.Repository.DefaultBranch,
			})
			if err != nil {
				return fmt.Errorf("initializing repository: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Initialized empty Git repository in", r.Root)
			return nil
		},
	}

	addCmd := &cobra.Command{
		Use:   "add <path>...",
		Short: "Add file contents to the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.repoRoot()
			if err != nil {
				return err
			}

			paths, err := a.resolveArgs(args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			st, err := stage.New(root, stage.Options{
				MetadataDir: a.cfg.Repository.MetadataDir,
				Policy:      a.cfg.Stage.Policy,
				Logger:      a.logger,
				OnStaged: func(e index.Entry) {
					fmt.Fprintf(out, "Added %s to the index.\n", e.Path)
				},
			})
			if err != nil {
				return err
			}

			if _, err := st.Stage(cmd.Context(), paths); err != nil {
				return fmt.Errorf("adding files to the index: %w", err)
			}
			return nil
		},
	}

	var (
		watchMode bool
		noColor   bool
	)
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the working tree status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.repoRoot()
			if err != nil {
				return err
			}

			opts := status.Options{
				MetadataDir: a.cfg.Repository.MetadataDir,
				Ignore:      a.cfg.Status.Ignore,
				IgnoreFile:  a.cfg.Status.IgnoreFile,
				Workers:     a.cfg.Status.Workers,
				Logger:      a.logger,
			}

			if a.cfg.Status.StatCache {
				cache, err := a.openStatCache(root)
				if err != nil {
					return err
				}
				defer cache.Close()
				opts.Cache = cache
			}

			scanner, err := status.New(root, opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := !noColor && !color.NoColor

			if !watchMode {
				report, err := scanner.Status(cmd.Context())
				if err != nil {
					return fmt.Errorf("getting repository status: %w", err)
				}
				return report.Format(out, colorize)
			}

			w, err := watch.New(scanner, watch.Options{
				Debounce: a.cfg.Watch.Debounce,
				Logger:   a.logger,
			})
			if err != nil {
				return err
			}
			defer w.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			err = w.Run(ctx, func(report *status.Report, err error) {
				if err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "status failed:", err)
					return
				}
				fmt.Fprintln(out)
				if err := report.Format(out, colorize); err != nil {
					a.logger.Warn("writing report", zap.Error(err))
				}
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
	statusCmd.Flags().BoolVarP(&watchMode, "watch", "w", false, "keep running and reprint on changes")
	statusCmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")

	catFileCmd := &cobra.Command{
		Use:   "cat-file <digest>",
		Short: "Print the content of a stored object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.repoRoot()
			if err != nil {
				return err
			}

			r, err := repo.Open(root, a.cfg.Repository.MetadataDir)
			if err != nil {
				return err
			}

			s, err := safe.New(safe.Options{Root: r.ObjectsDir(), Logger: a.logger})
			if err != nil {
				return fmt.Errorf("initializing object store: %w", err)
			}

			content, err := s.Get(args[0])
			if err != nil {
				return fmt.Errorf("reading object %s: %w", args[0], err)
			}

			_, err = cmd.OutOrStdout().Write(content)
			return err
		},
	}

	var diffContext int
	var diffNoColor bool
	diffCmd := &cobra.Command{
		Use:   "diff [path...]",
		Short: "Show changes between the index and the working tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.repoRoot()
			if err != nil {
				return err
			}

			scanner, err := status.New(root, status.Options{
				MetadataDir: a.cfg.Repository.MetadataDir,
				Ignore:      a.cfg.Status.Ignore,
				IgnoreFile:  a.cfg.Status.IgnoreFile,
				Workers:     a.cfg.Status.Workers,
				Logger:      a.logger,
			})
			if err != nil {
				return err
			}

			only, err := a.pathFilter(scanner.Repo, args)
			if err != nil {
				return err
			}

			report, err := scanner.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("getting repository status: %w", err)
			}

			s, err := safe.New(safe.Options{Root: scanner.Repo.ObjectsDir(), Logger: a.logger})
			if err != nil {
				return fmt.Errorf("initializing object store: %w", err)
			}

			engine := diff.NewEngine(diffContext)
			out := cmd.OutOrStdout()
			colorize := !diffNoColor && !color.NoColor

			for _, c := range report.Changes {
				if c.Type == shared.ChangeUntracked || (only != nil && !only[c.Path]) {
					continue
				}

				staged, err := s.Get(c.OldHash)
				if err != nil {
					return fmt.Errorf("reading staged %s: %w", c.Path, err)
				}

				var current []byte
				newName := "b/" + c.Path
				if c.Type == shared.ChangeDeleted {
					newName = "/dev/null"
				} else if current, err = os.ReadFile(scanner.Repo.AbsPath(c.Path)); err != nil {
					return apperrors.FileRead(c.Path, err)
				}

				fmt.Fprintf(out, "--- a/%s\n+++ %s\n", c.Path, newName)
				printColoredDiff(out, engine.Diff(staged, current).Format(), colorize)
			}
			return nil
		},
	}
	diffCmd.Flags().IntVarP(&diffContext, "unified", "U", 3, "lines of context around each change")
	diffCmd.Flags().BoolVar(&diffNoColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(catFileCmd)

	return rootCmd
}

// setup loads configuration and builds the logger.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}

	l, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	a.cfg = cfg
	a.logger = l.Logger
	return nil
}

// baseDir is --root when given, else the working directory.
func (a *app) baseDir() (string, error) {
	if a.rootDir != "" {
		return filepath.Abs(a.rootDir)
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting current directory: %w", err)
	}
	return dir, nil
}

// repoRoot finds the repository containing the base directory.
func (a *app) repoRoot() (string, error) {
	base, err := a.baseDir()
	if err != nil {
		return "", err
	}
	return repo.FindRoot(base, a.cfg.Repository.MetadataDir)
}

// resolveArgs makes relative arguments relative to the base directory rather
// than the repository root.
func (a *app) resolveArgs(args []string) ([]string, error) {
	base, err := a.baseDir()
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(args))
	for _, arg := range args {
		if filepath.IsAbs(arg) {
			paths = append(paths, arg)
			continue
		}
		paths = append(paths, filepath.Join(base, arg))
	}
	return paths, nil
}

// pathFilter turns diff arguments into a set of root-relative paths. No
// arguments means no filter.
func (a *app) pathFilter(r *repo.Repository, args []string) (map[string]bool, error) {
	if len(args) == 0 {
		return nil, nil
	}

	paths, err := a.resolveArgs(args)
	if err != nil {
		return nil, err
	}

	only := make(map[string]bool, len(paths))
	for _, p := range paths {
		rel, err := r.RelPath(p)
		if err != nil {
			return nil, err
		}
		only[rel] = true
	}
	return only, nil
}

func printColoredDiff(w io.Writer, text string, colorize bool) {
	added := color.New(color.FgGreen)
	removed := color.New(color.FgRed)
	header := color.New(color.FgCyan)
	for _, c := range []*color.Color{added, removed, header} {
		if colorize {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	for _, line := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
		if len(line) == 0 {
			continue
		}

		switch {
		case strings.HasPrefix(line, "@@"):
			header.Fprintln(w, line)
		case strings.HasPrefix(line, "+"):
			added.Fprintln(w, line)
		case strings.HasPrefix(line, "-"):
			removed.Fprintln(w, line)
		default:
			fmt.Fprintln(w, line)
		}
	}
}

func (a *app) openStatCache(root string) (*statcache.Cache, error) {
	r, err := repo.Open(root, a.cfg.Repository.MetadataDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(r.StateDir(), 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	return statcache.Open(filepath.Join(r.StateDir(), "statcache"), a.logger)
}

func main() {
	ctx := context.Background()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
