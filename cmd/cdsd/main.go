package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"contentdir/internal/app"
	"contentdir/internal/cds"
	"contentdir/internal/config"
	"contentdir/internal/search"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer
// a.Close().
func newApp() (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.New(cfg, "")
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "cdsd",
	Short: "UPnP/DLNA content directory server",
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("initializing config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:  %s\n", cfg.LogDir)
		fmt.Printf("Media Roots: %v\n", cfg.Import.MediaRoots)
		fmt.Printf("Autoscan Directories: %d configured\n", len(cfg.Autoscan))
		return nil
	},
}

// import command
var importCmd = &cobra.Command{
	Use:   "import [PATH]",
	Short: "Import a file or directory into the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, _ := cmd.Flags().GetBool("recursive")
		hidden, _ := cmd.Flags().GetBool("hidden")
		followSymlinks, _ := cmd.Flags().GetBool("follow-symlinks")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.Import(context.Background(), args[0], recursive, hidden, followSymlinks)
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}

		fmt.Printf("Imported as object id %d\n", id)
		return nil
	},
}

// browse command
var browseCmd = &cobra.Command{
	Use:   "browse [CONTAINER_ID]",
	Short: "List the children of a container (defaults to the filesystem root)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		offset, _ := cmd.Flags().GetInt("offset")
		count, _ := cmd.Flags().GetInt("count")

		containerID := cds.FSRootID
		if len(args) == 1 {
			var v int
			if _, err := fmt.Sscanf(args[0], "%d", &v); err != nil {
				return fmt.Errorf("invalid container id %q: %w", args[0], err)
			}
			containerID = int32(v)
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		objs, total, err := a.Browse(context.Background(), containerID, offset, count)
		if err != nil {
			return fmt.Errorf("browse failed: %w", err)
		}

		for _, o := range objs {
			h := o.Head()
			kind := "item"
			if o.IsContainer() {
				kind = "container"
			}
			fmt.Printf("%-10d %-10s %-30s %s\n", h.ID, kind, h.Title, h.UpnpClass)
		}
		fmt.Printf("\n%d of %d total\n", len(objs), total)
		return nil
	},
}

// search command
var searchCmd = &cobra.Command{
	Use:   "search [CONTAINER_ID] EXPR",
	Short: "Run a UPnP search expression against a container's descendants",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		containerID := cds.FSRootID
		expr := args[0]
		if len(args) == 2 {
			var v int
			if _, err := fmt.Sscanf(args[0], "%d", &v); err != nil {
				return fmt.Errorf("invalid container id %q: %w", args[0], err)
			}
			containerID = int32(v)
			expr = args[1]
		}

		ast, err := search.Parse(expr, time.Now())
		if err != nil {
			return fmt.Errorf("parsing search expression: %w", err)
		}
		compiled, err := search.Compile(ast, search.DefaultColumnMapper{})
		if err != nil {
			return fmt.Errorf("compiling search expression: %w", err)
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		objs, total, err := a.Storage().Search(context.Background(), containerID, compiled, nil, 0, 0)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		for _, o := range objs {
			h := o.Head()
			fmt.Printf("%-10d %-30s %s\n", h.ID, h.Title, h.UpnpClass)
		}
		fmt.Printf("\n%d of %d total\n", len(objs), total)
		return nil
	},
}

// autoscan command
var autoscanCmd = &cobra.Command{
	Use:   "autoscan",
	Short: "Manage autoscan directories",
}

var autoscanAddCmd = &cobra.Command{
	Use:   "add PATH",
	Short: "Register a directory for autoscan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")
		recursive, _ := cmd.Flags().GetBool("recursive")
		hidden, _ := cmd.Flags().GetBool("hidden")
		interval, _ := cmd.Flags().GetInt("interval")
		persistent, _ := cmd.Flags().GetBool("persistent")

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		adir, err := a.AddAutoscanDirectory(context.Background(), config.AutoscanSpec{
			Location: args[0], Mode: mode, Recursive: recursive, Hidden: hidden,
			IntervalS: interval, Persistent: persistent,
		})
		if err != nil {
			return fmt.Errorf("adding autoscan directory: %w", err)
		}

		fmt.Printf("Autoscan directory registered: id=%s object_id=%d mode=%s\n", adir.ID, adir.ObjectID, adir.ScanMode)
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the content directory server (autoscan + async import)",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		fmt.Println("cdsd serving, press Ctrl-C to stop")
		return a.Serve(ctx)
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	importCmd.Flags().BoolP("recursive", "r", false, "Recurse into subdirectories")
	importCmd.Flags().Bool("hidden", false, "Include hidden files")
	importCmd.Flags().Bool("follow-symlinks", false, "Follow symlinks")

	browseCmd.Flags().Int("offset", 0, "Result offset")
	browseCmd.Flags().Int("count", 0, "Result count (0 = all)")

	autoscanCmd.AddCommand(autoscanAddCmd)
	autoscanAddCmd.Flags().String("mode", "timed", "Scan mode: timed or inotify")
	autoscanAddCmd.Flags().BoolP("recursive", "r", false, "Recurse into subdirectories")
	autoscanAddCmd.Flags().Bool("hidden", false, "Include hidden files")
	autoscanAddCmd.Flags().Int("interval", 3600, "Timed rescan interval in seconds")
	autoscanAddCmd.Flags().Bool("persistent", false, "Keep watching a removable directory's nearest ancestor across unmounts")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(browseCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(autoscanCmd)
	rootCmd.AddCommand(serveCmd)
}
