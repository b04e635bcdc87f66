package store

import (
	"fmt"
	"log"
	"os"
)

// RunMigrateCommand handles the 'migrate' subcommand dispatching
func RunMigrateCommand(args []string, dbPath string) {
	if len(args) < 1 {
		PrintMigrateHelp()
		os.Exit(1)
	}

	action := args[0]

	st, err := openRaw(dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	switch action {
	case "up":
		handleMigrateUp(st)

	case "down":
		handleMigrateDown(st)

	case "status":
		handleMigrateStatus(st)

	case "help":
		PrintMigrateHelp()

	default:
		fmt.Printf("Unknown migrate action: %s\n\n", action)
		PrintMigrateHelp()
		os.Exit(1)
	}
}

// handleMigrateUp applies all pending migrations
func handleMigrateUp(st *Store) {
	log.Printf("Running migrations...")
	if err := st.MigrateUp(); err != nil {
		log.Fatalf("Migration up failed: %v", err)
	}
	log.Println("All migrations applied successfully")

	version, dirty, _ := st.MigrateVersion()
	log.Printf("Current version: %d (dirty: %v)", version, dirty)
}

// handleMigrateDown rolls back one migration
func handleMigrateDown(st *Store) {
	log.Printf("Rolling back one migration...")
	if err := st.MigrateDown(); err != nil {
		log.Fatalf("Migration down failed: %v", err)
	}
	log.Println("Migration rolled back successfully")

	version, dirty, _ := st.MigrateVersion()
	log.Printf("Current version: %d (dirty: %v)", version, dirty)
}

// handleMigrateStatus displays the current migration status
func handleMigrateStatus(st *Store) {
	version, dirty, err := st.MigrateVersion()
	if err != nil {
		log.Fatalf("Failed to get migration status: %v", err)
	}

	fmt.Println("=== Migration Status ===")
	fmt.Printf("Current version: %d\n", version)
	fmt.Printf("Dirty: %v\n", dirty)

	if dirty {
		fmt.Println("\nWARNING: Database is in a dirty state!")
		fmt.Println("A migration failed mid-execution; inspect the database manually.")
	}
}

// PrintMigrateHelp displays the help message for the migrate command
func PrintMigrateHelp() {
	fmt.Println("Database Migration Commands")
	fmt.Println()
	fmt.Println("Usage: physio-report migrate <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  up              Apply all pending migrations")
	fmt.Println("  down            Rollback one migration")
	fmt.Println("  status          Show current migration status and version")
	fmt.Println("  help            Show this help message")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -db <path>      Path to database file (default: physio_report.db)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  physio-report migrate up")
	fmt.Println("  physio-report migrate status")
}
