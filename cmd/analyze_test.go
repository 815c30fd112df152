package cmd

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-auditrisk/pkg/models"
)

func TestBatchID(t *testing.T) {
	assert.Equal(t, "audit-2024-03-04", batchID("/data/in/audit-2024-03-04.jsonl"))
	assert.Equal(t, "plain", batchID("plain"))
}

func TestWriteResults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	results := []*models.BatchResult{
		{Summary: models.BatchSummary{BatchID: "a"}},
		nil,
		{Summary: models.BatchSummary{BatchID: "b"}},
	}
	require.NoError(t, writeResults(path, results, true))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		s, err := models.UnmarshalSummary(scanner.Bytes())
		require.NoError(t, err)
		ids = append(ids, s.BatchID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}
