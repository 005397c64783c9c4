// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	globals globalOptions

	// diff
	diffOutput      string
	diffPayloads    bool
	diffNoReference bool

	// apply
	applyOutput  string
	applyForce   bool
	applyRefuse  bool
	applyPreview bool
	applyDryRun  bool
	applyReview  bool
	applyYes     bool

	// direct
	directOutput   string
	directPatchOut string
	directForce    bool
	directPreview  bool
	directYes      bool

	// review
	reviewOutput string

	// history
	historyLimit int

	// watch
	watchOutput   string
	watchPatchOut string

	// serve
	serveAddr string

	rootCmd = &cobra.Command{
		Use:   "dbcpatch",
		Short: "Carry hand-made DBC edits over to regenerated descriptors",
		Long: `dbcpatch records the difference between a generated CAN descriptor and its
hand-cleaned version as a replayable patch document, and applies that patch to
newly generated descriptors with explicit conflict reporting.`,
		SilenceUsage: true,
	}

	diffCmd = &cobra.Command{
		Use:   "diff <raw.dbc> <cleaned.dbc>",
		Short: "Generate a patch document from a raw and a cleaned descriptor",
		Args:  cobra.ExactArgs(2),
		Run:   run("diff", runDiff),
	}

	applyCmd = &cobra.Command{
		Use:   "apply <target.dbc> <patch.json>",
		Short: "Apply a patch document to a descriptor",
		Long: `Apply replays every rule of the patch against the target descriptor.
Rules whose expected values no longer match are reported as conflicts and the
command exits with status 1.`,
		Args: cobra.ExactArgs(2),
		Run:  run("apply", runApply),
	}

	directCmd = &cobra.Command{
		Use:   "direct <raw_old.dbc> <cleaned_old.dbc> <raw_new.dbc>",
		Short: "Generate a patch from the old pair and apply it to the new raw descriptor",
		Args:  cobra.ExactArgs(3),
		Run:   run("direct", runDirect),
	}

	reviewCmd = &cobra.Command{
		Use:   "review <patch.json>",
		Short: "Interactively accept or reject the rules of a patch",
		Args:  cobra.ExactArgs(1),
		Run:   run("review", runReview),
	}

	// --- Reference catalog ---
	referenceCmd = &cobra.Command{
		Use:     "reference",
		Aliases: []string{"ref"},
		Short:   "Manage the reference catalog of known signals and messages",
	}
	referenceImportCmd = &cobra.Command{
		Use:   "import <file.dbc>",
		Short: "Import every signal and message of a descriptor into the catalog",
		Args:  cobra.ExactArgs(1),
		Run:   run("reference import", runReferenceImport),
	}
	referenceSearchCmd = &cobra.Command{
		Use:   "search <term>",
		Short: "Search the catalog by name",
		Args:  cobra.ExactArgs(1),
		Run:   run("reference search", runReferenceSearch),
	}
	referenceExportCmd = &cobra.Command{
		Use:   "export <file.json>",
		Short: "Write the catalog to a file",
		Args:  cobra.ExactArgs(1),
		Run:   run("reference export", runReferenceExport),
	}
	referenceStatsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Show catalog size and location",
		Args:  cobra.NoArgs,
		Run:   run("reference stats", runReferenceStats),
	}

	// --- History ---
	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "Inspect the audit log",
	}
	historyListCmd = &cobra.Command{
		Use:   "list",
		Short: "List recent audit entries, newest first",
		Args:  cobra.NoArgs,
		Run:   run("history list", runHistoryList),
	}

	// --- Long running ---
	watchCmd = &cobra.Command{
		Use:   "watch <raw_old.dbc> <cleaned_old.dbc> <raw_new.dbc>",
		Short: "Re-run the direct patch whenever an input changes",
		Args:  cobra.ExactArgs(3),
		Run:   run("watch", runWatch),
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the patch engine over HTTP",
		Args:  cobra.NoArgs,
		Run:   run("serve", runServe),
	}
	archiveCmd = &cobra.Command{
		Use:   "archive <patch.json> [file.dbc...]",
		Short: "Upload a patch and its descriptors to the configured archive",
		Args:  cobra.MinimumNArgs(1),
		Run:   run("archive", runArchive),
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&globals.configPath, "config", "", "Config file (default $DBCPATCH_CONFIG or ~/.dbcpatch/dbcpatch.yaml)")
	pf.BoolVar(&globals.jsonOut, "json", false, "Output results as JSON")
	pf.BoolVar(&globals.compact, "compact", false, "Compact JSON output")
	pf.BoolVarP(&globals.quiet, "quiet", "q", false, "No output, exit code only")
	pf.StringVar(&globals.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&globals.uiMode, "ui", "", "Output style: rich, plain, machine (default: auto)")

	rootCmd.AddCommand(diffCmd)
	diffCmd.Flags().StringVarP(&diffOutput, "output", "o", "", "Write the patch to this file instead of stdout")
	diffCmd.Flags().BoolVar(&diffPayloads, "payloads", false, "Embed cleaned definitions into creation rules")
	diffCmd.Flags().BoolVar(&diffNoReference, "no-reference", false, "Do not fill creation payloads from the catalog")

	rootCmd.AddCommand(applyCmd)
	applyCmd.Flags().StringVarP(&applyOutput, "output", "o", "", "Patched descriptor path")
	applyCmd.Flags().BoolVar(&applyForce, "force", false, "Overwrite drifted values instead of reporting conflicts")
	applyCmd.Flags().BoolVar(&applyRefuse, "refuse-on-conflict", false, "Do not write the output when any rule conflicts")
	applyCmd.Flags().BoolVar(&applyPreview, "preview", false, "Show the text diff of the change")
	applyCmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "Apply in memory and show the preview without writing")
	applyCmd.Flags().BoolVar(&applyReview, "review", false, "Review the rules interactively before applying")
	applyCmd.Flags().BoolVarP(&applyYes, "yes", "y", false, "Overwrite the output without asking")

	rootCmd.AddCommand(directCmd)
	directCmd.Flags().StringVarP(&directOutput, "output", "o", "", "Patched descriptor path")
	directCmd.Flags().StringVar(&directPatchOut, "patch-out", "", "Also export the generated patch")
	directCmd.Flags().BoolVar(&directForce, "force", false, "Overwrite drifted values instead of reporting conflicts")
	directCmd.Flags().BoolVar(&directPreview, "preview", false, "Show the text diff of the change")
	directCmd.Flags().BoolVarP(&directYes, "yes", "y", false, "Overwrite the output without asking")
	_ = directCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(reviewCmd)
	reviewCmd.Flags().StringVarP(&reviewOutput, "output", "o", "", "Write the accepted rules here (default: overwrite the input)")

	rootCmd.AddCommand(referenceCmd)
	referenceCmd.AddCommand(referenceImportCmd)
	referenceCmd.AddCommand(referenceSearchCmd)
	referenceCmd.AddCommand(referenceExportCmd)
	referenceCmd.AddCommand(referenceStatsCmd)

	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd)
	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of entries")

	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVarP(&watchOutput, "output", "o", "", "Patched descriptor path")
	watchCmd.Flags().StringVar(&watchPatchOut, "patch-out", "", "Also export the generated patch on every run")
	_ = watchCmd.MarkFlagRequired("output")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")

	rootCmd.AddCommand(archiveCmd)
}

// runner is the body of a command. It returns the data for the JSON
// envelope and whether any rule conflicted.
type runner func(ctx context.Context, a *app, args []string) (data any, conflicts bool, err error)

// run adapts a runner to cobra and exits with its status.
func run(name string, fn runner) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		os.Exit(execute(cmd.Context(), name, fn, args))
	}
}

func execute(ctx context.Context, name string, fn runner, args []string) int {
	start := time.Now()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, globals)
	if err != nil {
		return OutputResult(OutputConfig{JSON: globals.jsonOut, Quiet: globals.quiet}, name, start, nil, false, err)
	}
	defer a.close(ctx)
	return executeWith(ctx, a, name, fn, args)
}

func executeWith(ctx context.Context, a *app, name string, fn runner, args []string) int {
	start := time.Now()
	data, conflicts, err := fn(ctx, a, args)
	return OutputResult(a.out, name, start, data, conflicts, err)
}
