package storage

import (
	"fmt"
	"strconv"

	bolt "go.etcd.io/bbolt"
)

// SchemaVersion is the version this build reads and writes. Opening a
// database with a higher version fails; lower versions are migrated up.
const SchemaVersion = 2

var keySchemaVersion = []byte("schema_version")

type migration struct {
	version int
	name    string
	up      func(btx *bolt.Tx) error
}

// Schema history. Append-only; never edit a shipped step.
var migrations = []migration{
	{version: 1, name: "create entity buckets", up: migrateEntityBuckets},
	{version: 2, name: "add conversion queue bucket", up: migrateConversionQueue},
}

// Migrate brings the database schema up to SchemaVersion inside one
// transaction and reports the version span it covered. Running against an
// up-to-date database is a no-op with from == to.
func Migrate(db *bolt.DB) (from, to int, err error) {
	err = db.Update(func(btx *bolt.Tx) error {
		meta, err := btx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return fmt.Errorf("failed to create meta bucket: %w", err)
		}

		from = readSchemaVersion(meta)
		if from > SchemaVersion {
			return fmt.Errorf("database schema version %d is newer than supported %d", from, SchemaVersion)
		}

		for _, m := range migrations {
			if m.version <= from {
				continue
			}
			if err := m.up(btx); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
			}
		}

		to = SchemaVersion
		return meta.Put(keySchemaVersion, []byte(strconv.Itoa(to)))
	})
	return from, to, err
}

// PendingMigrations reports the stored schema version and the steps
// Migrate would run, without touching the database. Used by the offline
// migration tool's dry-run mode.
func PendingMigrations(db *bolt.DB) (from int, pending []string, err error) {
	err = db.View(func(btx *bolt.Tx) error {
		if meta := btx.Bucket(bucketMeta); meta != nil {
			from = readSchemaVersion(meta)
		}
		if from > SchemaVersion {
			return fmt.Errorf("database schema version %d is newer than supported %d", from, SchemaVersion)
		}
		for _, m := range migrations {
			if m.version > from {
				pending = append(pending, fmt.Sprintf("%d: %s", m.version, m.name))
			}
		}
		return nil
	})
	return from, pending, err
}

func readSchemaVersion(meta *bolt.Bucket) int {
	raw := meta.Get(keySchemaVersion)
	if raw == nil {
		return 0
	}
	v, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0
	}
	return v
}

func migrateEntityBuckets(btx *bolt.Tx) error {
	buckets := [][]byte{
		bucketImages,
		bucketMachines,
		bucketTargets,
		bucketSessions,
		bucketUsers,
	}
	for _, bucket := range buckets {
		if _, err := btx.CreateBucketIfNotExists(bucket); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
	}
	return nil
}

// Version 2 split conversion jobs into their own bucket. Job rows from the
// embedded era cannot be reconstructed (staging paths were not persisted);
// startup recovery marks PROCESSING images without a job as ERROR instead.
func migrateConversionQueue(btx *bolt.Tx) error {
	_, err := btx.CreateBucketIfNotExists(bucketConvertJobs)
	if err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucketConvertJobs, err)
	}
	return nil
}
