package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrailAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.jsonl")
	trail := New(path, nil)

	trail.Log(Record{Event: EventSecretsFound, Decision: "redacted", Findings: 2, Rules: []string{"generic-secret"}})
	trail.Log(Record{Event: EventBlockedFiles, Decision: "rejected", Reason: "blocked file: .env"})

	records := readRecords(t, path)
	require.Len(t, records, 2)

	assert.Equal(t, EventSecretsFound, records[0].Event)
	assert.Equal(t, 2, records[0].Findings)
	assert.Equal(t, []string{"generic-secret"}, records[0].Rules)
	assert.NotEmpty(t, records[0].ID)
	assert.False(t, records[0].Timestamp.IsZero())

	assert.Equal(t, EventBlockedFiles, records[1].Event)
	assert.NotEqual(t, records[0].ID, records[1].ID)
}

func TestTrailCapsDetails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	trail := New(path, nil)

	trail.Log(Record{Event: EventUnknownOrigin, Details: strings.Repeat("x", 2000)})

	records := readRecords(t, path)
	require.Len(t, records, 1)
	assert.Len(t, records[0].Details, 500)
}

func TestTrailNeverFails(t *testing.T) {
	// Unwritable location: path under an existing file.
	base := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(base, []byte("x"), 0600))

	trail := New(filepath.Join(base, "audit.jsonl"), nil)
	assert.NotPanics(t, func() {
		trail.Log(Record{Event: EventSecretsFound})
	})
}

func TestNopTrail(t *testing.T) {
	assert.NotPanics(t, func() {
		NopTrail{}.Log(Record{Event: EventSecretsFound})
	})
}

func readRecords(t *testing.T, path string) []Record {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())
	return records
}
