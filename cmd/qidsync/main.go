// SPDX-FileCopyrightText: 2024 EmmaBot maintainers
// SPDX-License-Identifier: MIT

// Command qidsync keeps the mapping between Wikidata items and wiki
// pages reconciled: it sweeps the corpus for QID markers, maintains
// the per-item bookkeeping pages, merges duplicate claimants, and
// repairs the redirect graph. All mutating commands are dry runs
// unless --apply is given.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var logger *log.Logger

var (
	configPath   string
	siteURL      string
	apply        bool
	maxEdits     int
	runTag       string
	shardSpec    string
	stagger      time.Duration
	snapshotPath string
	walkAll      bool
	dumpsPath    string
	dumpWiki     string
)

var rootCmd = &cobra.Command{
	Use:           "qidsync",
	Short:         "Reconciles Wikidata item claims with wiki pages",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Scan the corpus, build artifacts, and refresh the duplicates report",
	RunE: func(cmd *cobra.Command, args []string) error {
		run, ctx, cleanup, err := startRun(cmd.Name())
		if err != nil {
			return err
		}
		defer cleanup()
		wiki, err := connectWiki(ctx, run)
		if err != nil {
			return err
		}
		storage, err := openStorage(run.config)
		if err != nil {
			return err
		}
		if err := runSweep(ctx, wiki, storage, run.config, run.shard, run.date, run.stats); err != nil {
			return err
		}
		return finishRun(run)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Bring every item's bookkeeping page up to date",
	RunE: func(cmd *cobra.Command, args []string) error {
		run, ctx, cleanup, err := startRun(cmd.Name())
		if err != nil {
			return err
		}
		defer cleanup()
		wiki, err := connectWiki(ctx, run)
		if err != nil {
			return err
		}
		registry, err := loadRegistry(ctx, wiki, run.config, snapshotPath, run.stats)
		if err != nil {
			return err
		}
		if err := syncAllBookkeeping(ctx, wiki, registry, run.shard, run.stats); err != nil {
			return err
		}
		return finishRun(run)
	},
}

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge duplicate claimant pages into their canonical page",
	RunE: func(cmd *cobra.Command, args []string) error {
		run, ctx, cleanup, err := startRun(cmd.Name())
		if err != nil {
			return err
		}
		defer cleanup()
		wiki, err := connectWiki(ctx, run)
		if err != nil {
			return err
		}
		registry, err := loadRegistry(ctx, wiki, run.config, snapshotPath, run.stats)
		if err != nil {
			return err
		}
		if err := mergeAllDuplicates(ctx, wiki, registry, run.shard, run.stats); err != nil {
			return err
		}
		return finishRun(run)
	},
}

var redirectsCmd = &cobra.Command{
	Use:   "redirects",
	Short: "Repair double redirects, self redirects, and redirect cycles",
	RunE: func(cmd *cobra.Command, args []string) error {
		run, ctx, cleanup, err := startRun(cmd.Name())
		if err != nil {
			return err
		}
		defer cleanup()
		wiki, err := connectWiki(ctx, run)
		if err != nil {
			return err
		}
		if err := repairRedirects(ctx, wiki, walkAll, run.shard, run.stats); err != nil {
			return err
		}
		return finishRun(run)
	},
}

var dumpScanCmd = &cobra.Command{
	Use:   "dump-scan [dump.xml[.bz2|.gz|.xz|.zst] | -]",
	Short: "Build the registry and chain report offline from an XML export",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		run, ctx, cleanup, err := startRun(cmd.Name())
		if err != nil {
			return err
		}
		defer cleanup()

		// With --dumps, the artifacts carry the dump's date rather
		// than today's, so rescanning an export rewrites its own
		// artifact set.
		var dumpPath string
		switch {
		case len(args) > 0:
			dumpPath = args[0]
		case dumpsPath != "":
			if dumpWiki == "" {
				return fmt.Errorf("--dumps needs --wiki to pick a dump tree")
			}
			var date time.Time
			dumpPath, date, err = findLatestDump(dumpsPath, dumpWiki)
			if err != nil {
				return err
			}
			run.date = date
			logger.Printf("latest dump for %s: %s", dumpWiki, dumpPath)
		default:
			return fmt.Errorf("need a dump file argument, or --dumps and --wiki")
		}

		storage, err := openStorage(run.config)
		if err != nil {
			return err
		}
		if err := runDumpScan(ctx, storage, dumpPath, run.config.WorkDir, run.date, run.stats); err != nil {
			return err
		}
		return finishRun(run)
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Expire old artifacts from the work directory and storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		run, _, cleanup, err := startRun(cmd.Name())
		if err != nil {
			return err
		}
		defer cleanup()
		if err := CleanupCache(run.config.WorkDir); err != nil {
			return err
		}
		storage, err := openStorage(run.config)
		if err != nil {
			return err
		}
		if storage != nil {
			if err := CleanupStorage(storage); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&siteURL, "site", "", "wiki API endpoint, overrides the config file")
	rootCmd.PersistentFlags().BoolVar(&apply, "apply", false, "perform edits instead of only logging them")
	rootCmd.PersistentFlags().IntVar(&maxEdits, "max-edits", 0, "stop after this many edits, 0 means no limit")
	rootCmd.PersistentFlags().StringVar(&runTag, "run-tag", "", "marker stamped onto every edit summary")
	rootCmd.PersistentFlags().StringVar(&shardSpec, "shard", "", "process only shard i of n, as i/n")
	rootCmd.PersistentFlags().DurationVar(&stagger, "stagger", 0, "delay process start by this duration times the shard index")

	syncCmd.Flags().StringVar(&snapshotPath, "snapshot", "", "replay a sweep's registry snapshot instead of enumerating the wiki")
	mergeCmd.Flags().StringVar(&snapshotPath, "snapshot", "", "replay a sweep's registry snapshot instead of enumerating the wiki")
	redirectsCmd.Flags().BoolVar(&walkAll, "all", false, "walk every redirect, not only the reported double redirects")
	dumpScanCmd.Flags().StringVar(&dumpsPath, "dumps", "", "path to a Wikimedia-style dumps tree, scans the latest export")
	dumpScanCmd.Flags().StringVar(&dumpWiki, "wiki", "", "dump tree name of the wiki to scan, used with --dumps")

	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(redirectsCmd)
	rootCmd.AddCommand(dumpScanCmd)
	rootCmd.AddCommand(cleanupCmd)
}

// run carries everything a subcommand needs beyond its own flags.
type run struct {
	config *Config
	shard  Shard
	stats  *RunStats
	date   time.Time
}

// createLogFile keeps logs out of the console. If the file already
// exists, new entries are appended after the existing ones.
func createLogFile() (*os.File, error) {
	logpath := filepath.Join("logs", "qidsync.log")
	if err := os.MkdirAll("logs", os.ModePerm); err != nil {
		return nil, err
	}
	return os.OpenFile(logpath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

// startRun does the setup shared by all subcommands: log file, config,
// shard selector, run identity, staggered start, and signal handling. The
// returned cleanup must run at command end.
func startRun(command string) (*run, context.Context, func(), error) {
	logfile, err := createLogFile()
	if err != nil {
		return nil, nil, nil, err
	}
	logger = log.New(logfile, "", log.Ldate|log.Ltime|log.LUTC|log.Lshortfile)

	config, err := LoadConfig(configPath)
	if err != nil {
		logfile.Close()
		return nil, nil, nil, err
	}
	if siteURL != "" {
		config.Site = siteURL
	}
	shard, err := ParseShard(shardSpec)
	if err != nil {
		logfile.Close()
		return nil, nil, nil, err
	}

	stats := &RunStats{
		RunID:   uuid.NewString(),
		Wiki:    config.Site,
		Command: command,
	}
	logger.Printf("run %s: %s starting, shard %q, apply=%v", stats.RunID, command, shardSpec, apply)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cleanup := func() {
		stop()
		logfile.Close()
	}

	// Staggered starts keep shard processes from logging in at the
	// same instant; partitioning alone keeps their edits disjoint.
	if stagger > 0 && shard.Index > 1 {
		delay := stagger * time.Duration(shard.Index-1)
		logger.Printf("shard %d/%d sleeping %v before start", shard.Index, shard.Count, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			cleanup()
			return nil, nil, nil, ctx.Err()
		}
	}

	return &run{config: config, shard: shard, stats: stats, date: time.Now().UTC()}, ctx, cleanup, nil
}

// connectWiki logs in to the configured wiki and wraps it with the
// run's write policy. Authentication failure is the one error that
// ends a run before it begins.
func connectWiki(ctx context.Context, run *run) (*guardedWiki, error) {
	if run.config.Site == "" {
		return nil, fmt.Errorf("no wiki configured, set site in the config file")
	}
	username, password, err := Credentials()
	if err != nil {
		return nil, err
	}
	live, err := NewLiveWiki(run.config.Site, run.config.UserAgent, run.config.Throttle)
	if err != nil {
		return nil, err
	}
	if err := live.Login(username, password); err != nil {
		return nil, err
	}
	guarded := guardWiki(live, apply, maxEdits, run.stats)
	guarded.runTag = runTag
	return guarded, nil
}

// openStorage returns nil without error when no keyfile is configured;
// artifacts then stay local.
func openStorage(config *Config) (Storage, error) {
	if config.Keyfile == "" {
		return nil, nil
	}
	storage, err := NewStorage(config.Keyfile)
	if err != nil {
		return nil, err
	}
	ok, err := storage.BucketExists(context.Background(), storageBucket)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("storage bucket %q does not exist", storageBucket)
	}
	return storage, nil
}

// finishRun prints the run summary, records it as the stats file that
// anchors cache retention, and expires old local artifacts.
func finishRun(run *run) error {
	run.stats.Print()
	if err := os.MkdirAll(run.config.WorkDir, 0755); err != nil {
		return err
	}
	if _, err := run.stats.WriteStats(run.config.WorkDir, run.date); err != nil {
		return err
	}
	return CleanupCache(run.config.WorkDir)
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.Print(err)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
