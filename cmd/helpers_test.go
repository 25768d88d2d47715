package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/airframesio/medallion-loader/cmd/formatters"
	"github.com/airframesio/medallion-loader/cmd/objectstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// productCSV renders a products file with n rows; rows listed in bad get a
// malformed rating
func productCSV(n int, bad ...int) string {
	malformed := make(map[int]bool, len(bad))
	for _, b := range bad {
		malformed[b] = true
	}

	var sb strings.Builder
	sb.WriteString("id,category,rating_average\n")
	for i := 1; i <= n; i++ {
		rating := fmt.Sprintf("%d.5", i%5)
		if malformed[i] {
			rating = "n/a"
		}
		fmt.Fprintf(&sb, "%d,cat-%d,%s\n", i, i%7, rating)
	}
	return sb.String()
}

// writeFiles creates name -> content files in a fresh directory
func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		full := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// readDataset returns every row of every Parquet part under dataset, part by part
func readDataset(t *testing.T, store objectstore.Store, dataset string) [][]map[string]interface{} {
	t.Helper()
	ctx := context.Background()

	keys, err := store.ListKeys(ctx, dataset+"/")
	if err != nil {
		t.Fatal(err)
	}

	var parts [][]map[string]interface{}
	for _, key := range keys {
		if !strings.HasSuffix(key, formatters.ParquetExtension) {
			continue
		}
		data, err := store.Get(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		reader, err := formatters.NewParquetReader(data)
		if err != nil {
			t.Fatalf("%s: %v", key, err)
		}
		rows, err := reader.ReadChunk(0)
		if err != nil {
			t.Fatalf("%s: %v", key, err)
		}
		parts = append(parts, rows)
	}
	return parts
}

func countRows(parts [][]map[string]interface{}) int {
	n := 0
	for _, p := range parts {
		n += len(p)
	}
	return n
}
