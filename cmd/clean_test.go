package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/airframesio/medallion-loader/cmd/objectstore"
)

func seedGold(t *testing.T) *objectstore.MemoryStore {
	t.Helper()
	store := objectstore.NewMemoryStore("lake")
	for _, key := range []string{
		"gold/category_performance/part-0.parquet",
		"gold/category_performance/part-1.parquet",
		"gold/category_performance_v2/part-0.parquet",
		"silver/p.parquet/part-00000.parquet",
	} {
		if err := store.Put(context.Background(), key, []byte("x"), ""); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

func TestCleanPrefix(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes only under the prefix", func(t *testing.T) {
		store := seedGold(t)
		deleted, err := CleanPrefix(ctx, store, "gold/category_performance", false, testLogger())
		if err != nil {
			t.Fatal(err)
		}
		if deleted != 2 {
			t.Errorf("expected 2 deletions, got %d", deleted)
		}
		if ok, _ := store.Exists(ctx, "gold/category_performance_v2/part-0.parquet"); !ok {
			t.Error("sibling prefix must survive")
		}
		if ok, _ := store.Exists(ctx, "silver/p.parquet/part-00000.parquet"); !ok {
			t.Error("silver must survive")
		}
	})

	t.Run("dry run only counts", func(t *testing.T) {
		store := seedGold(t)
		n, err := CleanPrefix(ctx, store, "gold/category_performance/", true, testLogger())
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Errorf("expected 2 planned deletions, got %d", n)
		}
		if keys, _ := store.ListKeys(ctx, "gold/"); len(keys) != 3 {
			t.Errorf("dry run deleted objects: %v", keys)
		}
	})

	t.Run("empty prefix refused", func(t *testing.T) {
		store := seedGold(t)
		for _, prefix := range []string{"", "/", "//"} {
			if _, err := CleanPrefix(ctx, store, prefix, false, testLogger()); !errors.Is(err, ErrEmptyPrefix) {
				t.Errorf("prefix %q: expected ErrEmptyPrefix, got %v", prefix, err)
			}
		}
		if keys, _ := store.ListKeys(ctx, ""); len(keys) != 4 {
			t.Errorf("nothing should be deleted, have %v", keys)
		}
	})

	t.Run("delete failure", func(t *testing.T) {
		boom := errors.New("denied")
		store := seedGold(t)
		store.InjectError(objectstore.OpDelete, "", boom)
		if _, err := CleanPrefix(ctx, store, "gold/", false, testLogger()); !errors.Is(err, boom) {
			t.Errorf("expected delete error, got %v", err)
		}
	})
}

func TestCleanTarget(t *testing.T) {
	tests := []struct {
		name    string
		gold    string
		prefix  string
		report  string
		want    string
		wantErr error
	}{
		{name: "report under default gold", gold: "gold/", report: "category_performance", want: "gold/category_performance/"},
		{name: "report under custom gold", gold: "/analytics/gold", report: "/category_performance/", want: "analytics/gold/category_performance/"},
		{name: "explicit prefix wins", gold: "gold/", prefix: "tmp/scratch/", report: "category_performance", want: "tmp/scratch/"},
		{name: "no report", gold: "gold/", report: "", wantErr: ErrEmptyPrefix},
		{name: "no gold tier", gold: "", report: "category_performance", wantErr: ErrGoldPrefixRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Layout.GoldPrefix = tt.gold
			got, err := cleanTarget(cfg, tt.prefix, tt.report)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
