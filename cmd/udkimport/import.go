package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cory-johannsen/udkimport/internal/config"
	"github.com/cory-johannsen/udkimport/internal/importer"
	"github.com/cory-johannsen/udkimport/internal/importer/materialize"
	"github.com/cory-johannsen/udkimport/internal/importer/udk"
)

type importFlags struct {
	format     string
	reportPath string
	policy     string
	store      string
	output     string
	parallel   int
	dryRun     bool
	autoExport bool
}

func newImportCmd(a *app) *cobra.Command {
	var f importFlags
	cmd := &cobra.Command{
		Use:   "import PATH...",
		Short: "Import legacy files or directories into the asset database",
		Long: `Import reads every given file, and every .t3d/.upk file under each given
directory, then materializes their assets and scene placements.

Exit status is non-zero when any item failed or the import was interrupted.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			applyImportFlags(cmd, &a.cfg, f)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runImport(ctx, a, args, f, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&f.format, "format", "", "source format for explicit files: t3d or upk (default: from extension)")
	cmd.Flags().StringVar(&f.reportPath, "report", "", "write the JSON import report to this file")
	cmd.Flags().StringVar(&f.policy, "policy", "", "collision policy: skip, overwrite or rename (overrides config)")
	cmd.Flags().StringVar(&f.store, "store", "", "asset store driver: fs, memory or postgres (overrides config)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "output directory of the fs store (overrides config)")
	cmd.Flags().IntVarP(&f.parallel, "parallel", "j", 0, "files imported concurrently, 1-16 (overrides config)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "import into an in-memory store and discard the result")
	cmd.Flags().BoolVar(&f.autoExport, "auto-export-meshes", false, "import every declared static mesh, not only placed ones (overrides config)")
	return cmd
}

// applyImportFlags overlays explicitly set flags onto the loaded config.
func applyImportFlags(cmd *cobra.Command, cfg *config.Config, f importFlags) {
	flags := cmd.Flags()
	if flags.Changed("policy") {
		cfg.Import.CollisionPolicy = f.policy
	}
	if flags.Changed("store") {
		cfg.Store.Driver = f.store
	}
	if flags.Changed("output") {
		cfg.Store.OutputDir = f.output
	}
	if flags.Changed("parallel") {
		cfg.Import.MaxParallelImports = f.parallel
	}
	if flags.Changed("auto-export-meshes") {
		cfg.Import.AutoExportStaticMeshes = f.autoExport
	}
	if f.dryRun {
		cfg.Store.Driver = config.DriverMemory
	}
}

func runImport(ctx context.Context, a *app, paths []string, f importFlags, out io.Writer) error {
	start := time.Now()
	var format udk.Format
	if f.format != "" {
		parsed, err := udk.ParseFormat(f.format)
		if err != nil {
			return err
		}
		format = parsed
	}

	store, closeStore, err := openStore(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer closeStore()

	mapper, closeMapper, err := buildMapper(a.cfg.Import, a.logger)
	if err != nil {
		return err
	}
	defer closeMapper()

	ic := a.cfg.Import
	session, err := importer.NewSession(importer.Options{
		Database:                 store,
		Mapper:                   mapper,
		Policy:                   materialize.CollisionPolicy(ic.CollisionPolicy),
		DestinationRoot:          ic.DestinationRoot,
		Filters:                  filtersFrom(ic.Filters),
		MaxParallel:              ic.MaxParallelImports,
		LightIntensityMultiplier: ic.LightIntensityMultiplier,
		RequireMaterials:         ic.RequireMaterials,
		AutoExportStaticMeshes:   ic.AutoExportStaticMeshes,
		Package: udk.PackageOptions{
			MinVersion: ic.MinPackageVersion,
			MaxVersion: ic.MaxPackageVersion,
		},
		Sink:   importer.LogSink{Logger: a.logger},
		Logger: a.logger,
	})
	if err != nil {
		return fmt.Errorf("configuring import: %w", err)
	}

	a.logger.Info("starting import",
		zap.Strings("paths", paths),
		zap.String("store", a.cfg.Store.Driver),
		zap.String("policy", ic.CollisionPolicy),
	)
	report, err := importer.New(importer.FileSource{Paths: paths, Format: format}, session).Run(ctx)
	if err != nil {
		return err
	}

	if f.reportPath != "" {
		if err := writeReport(f.reportPath, report); err != nil {
			return err
		}
	}
	printSummary(out, report, time.Since(start))

	sum := report.Summary()
	switch {
	case report.Cancelled:
		return fmt.Errorf("import interrupted: %d of %d items failed", sum.Failed, sum.Total)
	case sum.Failed > 0:
		return fmt.Errorf("%d of %d items failed", sum.Failed, sum.Total)
	}
	return nil
}

func writeReport(path string, report *importer.Report) error {
	fh, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}
	if err := report.WriteJSON(fh); err != nil {
		_ = fh.Close()
		return fmt.Errorf("writing report: %w", err)
	}
	return fh.Close()
}

func printSummary(w io.Writer, report *importer.Report, elapsed time.Duration) {
	sum := report.Summary()
	fmt.Fprintf(w, "import %s: %d files, %d items: %d created, %d skipped, %d failed [%s]\n",
		report.SessionID, len(report.Files), sum.Total, sum.Created, sum.Skipped, sum.Failed,
		elapsed.Round(time.Millisecond))
	for _, e := range report.Failures() {
		fmt.Fprintf(w, "  FAILED %s %s: %s: %s\n", e.SourceID, e.Item, e.ErrorKind, e.Cause)
	}
}
