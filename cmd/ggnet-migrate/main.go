// ggnet-migrate brings a GGnet database up to the schema version this
// build supports. Run it offline: the server must be stopped, the tool
// takes the same exclusive lock the server would.
package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/storage"
)

var (
	dataDir    = flag.String("data-dir", "/var/lib/ggnet", "GGnet data directory")
	dryRun     = flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	backupPath = flag.String("backup", "", "Path to back up the database before migration (default: <data-dir>/ggnet.db.backup)")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("GGnet Database Migration Tool")
	log.Println("=============================")

	dbPath := filepath.Join(*dataDir, storage.DBFileName)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("Database not found at %s", dbPath)
	}

	log.Printf("Database: %s", dbPath)
	log.Printf("Dry run: %v", *dryRun)
	log.Printf("Supported schema version: %d", storage.SchemaVersion)

	if *dryRun {
		inspect(dbPath)
		return
	}

	backupFile := *backupPath
	if backupFile == "" {
		backupFile = dbPath + ".backup"
	}
	log.Printf("Creating backup: %s", backupFile)
	if err := copyFile(dbPath, backupFile); err != nil {
		log.Fatalf("Failed to create backup: %v", err)
	}
	log.Println("✓ Backup created successfully")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	from, to, err := storage.Migrate(db)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	if from == to {
		log.Printf("✓ Database already at schema version %d, nothing to do", to)
		return
	}
	log.Printf("✓ Migrated schema from version %d to %d", from, to)
	log.Printf("Backup kept at %s for rollback", backupFile)
}

func inspect(dbPath string) {
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{ReadOnly: true})
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	from, pending, err := storage.PendingMigrations(db)
	if err != nil {
		log.Fatalf("Inspection failed: %v", err)
	}
	log.Printf("Current schema version: %d", from)
	if len(pending) == 0 {
		log.Println("✓ Database is already up to date")
		return
	}

	log.Println("[DRY RUN] Would run the following migrations:")
	for _, name := range pending {
		log.Printf("  %s", name)
	}
	log.Println("Dry run completed. No changes made.")
	log.Println("Run without --dry-run to perform the migration.")
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0600)
}
