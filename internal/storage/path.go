package storage

import (
	"fmt"
	"path"
	"regexp"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildArchivePath returns the object key for one archive batch. Keys are
// partitioned by UTC day in hive style so query engines can prune on date,
// and carry the batch timestamp plus a sequence number so two batches from
// the same second never collide.
func BuildArchivePath(scope string, batchTime time.Time, sequence int) (string, error) {
	if err := validatePathComponent(scope, "archive scope"); err != nil {
		return "", err
	}
	if sequence < 0 {
		return "", fmt.Errorf("sequence must be >= 0")
	}

	ts := batchTime.UTC()
	return path.Join(
		scope,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("events-%d-%05d.parquet", ts.Unix(), sequence),
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
