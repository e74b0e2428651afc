package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/vetclinic-pos/internal/domain/auth"
	"github.com/xenking/vetclinic-pos/internal/domain/cart"
	"github.com/xenking/vetclinic-pos/internal/handler"
	"github.com/xenking/vetclinic-pos/internal/storage/postgres"
)

type catalogJSON struct {
	ID    string          `json:"id"`
	Kind  string          `json:"kind"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock *int            `json:"stock"`
}

type apiKeyJSON struct {
	ID        string `json:"id"`
	Key       string `json:"key"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	SubjectID string `json:"subjectId"`
}

func main() {
	var (
		databaseURL  string
		catalogFiles string
		keysFile     string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFiles, "catalog", "db/seed/catalog.json", "comma-separated catalog JSON files (.gz accepted)")
	flag.StringVar(&keysFile, "keys", "db/seed/apikeys.json", "path to API keys JSON file")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or VETPOS_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("VETPOS_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, strings.Split(catalogFiles, ","), keysFile, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string, catalogFiles []string, keysFile, pepper string) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL, postgres.PoolConfig{MaxConns: 4})
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedCatalog(ctx, postgres.NewCatalogRepository(pool), catalogFiles); err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	if err := seedAPIKeys(ctx, postgres.NewAPIKeyRepository(pool), keysFile, pepper); err != nil {
		return errors.Wrap(err, "seed api keys")
	}

	return nil
}

// seedCatalog loads every catalog file concurrently and upserts each file's
// items as one batch.
func seedCatalog(ctx context.Context, repo *postgres.CatalogRepository, files []string) error {
	g, ctx := errgroup.WithContext(ctx)

	var (
		mu    sync.Mutex
		total int
	)
	for _, path := range files {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		g.Go(func() error {
			items, err := readCatalog(path)
			if err != nil {
				return errors.Wrapf(err, "read %s", path)
			}
			if err := repo.UpsertItems(ctx, items); err != nil {
				return errors.Wrapf(err, "upsert %s", path)
			}

			mu.Lock()
			total += len(items)
			mu.Unlock()

			slog.Info("upserted catalog file", slog.String("path", path), slog.Int("count", len(items)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("catalog seeded", slog.Int("items", total))
	return nil
}

func readCatalog(path string) ([]cart.LineItem, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip")
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	var entries []catalogJSON
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, errors.Wrap(err, "parse catalog JSON")
	}

	items := make([]cart.LineItem, 0, len(entries))
	for _, e := range entries {
		kind := cart.Kind(e.Kind)
		if !kind.Valid() {
			return nil, errors.Errorf("item %s: unknown kind %q", e.ID, e.Kind)
		}
		if e.Price.IsNegative() {
			return nil, errors.Errorf("item %s: negative price", e.ID)
		}
		if kind == cart.KindService {
			e.Stock = nil
		}
		items = append(items, cart.LineItem{
			Key:          cart.Key{CatalogID: e.ID, Kind: kind},
			Name:         e.Name,
			UnitPrice:    e.Price,
			StockCeiling: e.Stock,
		})
	}
	return items, nil
}

func seedAPIKeys(ctx context.Context, repo *postgres.APIKeyRepository, path, pepper string) error {
	slog.Info("reading API keys file", slog.String("path", path))

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return errors.Wrap(err, "read keys file")
	}

	var keys []apiKeyJSON
	if err := json.Unmarshal(data, &keys); err != nil {
		return errors.Wrap(err, "parse keys JSON")
	}

	for _, k := range keys {
		role, err := auth.ParseRole(k.Role)
		if err != nil {
			return errors.Wrapf(err, "key %s", k.ID)
		}
		if err := repo.Upsert(ctx, auth.APIKeyInfo{
			ID:        k.ID,
			KeyHash:   handler.HashAPIKey([]byte(pepper), k.Key),
			Name:      k.Name,
			Role:      role,
			SubjectID: k.SubjectID,
		}); err != nil {
			return errors.Wrapf(err, "upsert API key %s", k.ID)
		}

		slog.Info("upserted API key", slog.String("id", k.ID), slog.String("role", role.String()))
	}

	return nil
}
