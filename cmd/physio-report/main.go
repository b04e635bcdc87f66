// Command physio-report runs the feature-extraction pipeline over a
// directory of subject recordings, persists results to SQLite and writes
// CSV exports.
//
// Usage:
//
//	physio-report -config params.json -data-dir ./data [-db physio_report.db]
//	physio-report [-db physio_report.db] migrate <up|down|status>
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/physio-data/physio.report/internal/export"
	"github.com/physio-data/physio.report/internal/ingest"
	"github.com/physio-data/physio.report/internal/params"
	"github.com/physio-data/physio.report/internal/pipeline"
	"github.com/physio-data/physio.report/internal/store"
	"github.com/physio-data/physio.report/internal/version"
)

var (
	configPath     = flag.String("config", "", "Path to the JSON parameter file (required)")
	dataDir        = flag.String("data-dir", "", "Directory of per-subject recording folders (required)")
	dbPath         = flag.String("db", "physio_report.db", "Path to the results database")
	outDir         = flag.String("out-dir", "", "Directory for CSV exports (skipped when empty)")
	gzipOut        = flag.Bool("gzip", false, "Gzip-compress CSV exports")
	onlySubject    = flag.String("subject", "", "Process only the named subject")
	subjectWorkers = flag.Int("workers", 4, "Maximum subjects processed concurrently")
	showVersion    = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	args := flag.Args()
	if len(args) > 0 && args[0] == "migrate" {
		store.RunMigrateCommand(args[1:], *dbPath)
		return
	}
	if len(args) > 0 {
		fmt.Printf("Unknown command: %s\n\n", args[0])
		flag.Usage()
		os.Exit(1)
	}

	if *configPath == "" || *dataDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	log.Print(version.String())

	set, err := params.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load parameters: %v", err)
	}

	subjects, err := loadSubjects(*dataDir, *onlySubject)
	if err != nil {
		log.Fatalf("Failed to load subjects: %v", err)
	}
	if len(subjects) == 0 {
		log.Fatalf("No subjects found under %s", *dataDir)
	}
	log.Printf("Loaded %d subject(s) from %s", len(subjects), *dataDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := &pipeline.Runner{Defaults: set, SubjectWorkers: *subjectWorkers}
	started := time.Now()
	results := runner.RunBatch(ctx, subjects)
	if err := ctx.Err(); err != nil {
		log.Fatalf("Run interrupted: %v", err)
	}
	log.Printf("Processed %d subject(s) in %s", len(results), time.Since(started).Round(time.Millisecond))

	if err := persist(ctx, *dbPath, *configPath, results); err != nil {
		log.Fatalf("Failed to persist results: %v", err)
	}

	if *outDir != "" {
		w := &export.Writer{Dir: *outDir, Gzip: *gzipOut}
		if err := w.WriteAll(results); err != nil {
			log.Fatalf("Failed to write CSV exports: %v", err)
		}
		log.Printf("Wrote CSV exports to %s", *outDir)
	}
}

// loadSubjects reads every subject directory under root, or just the named
// one when only is non-empty. A subject whose recording fails to parse is
// logged and skipped; only an unreadable root directory is an error.
func loadSubjects(root, only string) ([]pipeline.Subject, error) {
	dirs, err := ingest.DiscoverSubjects(root)
	if err != nil {
		return nil, err
	}
	var subjects []pipeline.Subject
	for _, dir := range dirs {
		if only != "" && filepath.Base(dir) != only {
			continue
		}
		sub, err := ingest.LoadSubjectDir(dir)
		if err != nil {
			log.Printf("Skipping subject %s: %v", filepath.Base(dir), err)
			continue
		}
		subjects = append(subjects, sub)
	}
	return subjects, nil
}

// persist opens the results database and writes the whole run under a
// fresh run id. The raw parameter file is snapshotted alongside so the
// stored numbers stay interpretable after config changes.
func persist(ctx context.Context, dbPath, configPath string, results []pipeline.SubjectResult) error {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to snapshot parameter file: %w", err)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	run := store.Run{ID: uuid.NewString(), CreatedAt: time.Now(), Config: string(raw)}
	if err := st.CreateRun(ctx, run); err != nil {
		return err
	}
	for _, res := range results {
		if err := st.SaveSubject(ctx, run.ID, res.Aggregates, res.Corrected, res.Warnings); err != nil {
			return fmt.Errorf("subject %s: %w", res.SubjectID, err)
		}
	}
	log.Printf("Saved run %s (%d subjects) to %s", run.ID, len(results), dbPath)
	return nil
}
