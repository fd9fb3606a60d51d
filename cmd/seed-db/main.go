// Command seed-db loads the product catalog and the staff and provider API
// keys into PostgreSQL.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/scanbill/internal/domain/auth"
	"github.com/xenking/scanbill/internal/domain/product"
	"github.com/xenking/scanbill/internal/storage/postgres"
)

type productJSON struct {
	ID       string          `json:"id"`
	Barcode  string          `json:"barcode"`
	StoreID  string          `json:"storeId"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Price    decimal.Decimal `json:"price"`
}

// keySpec describes one API key to seed.
type keySpec struct {
	id, name, raw string
	scopes        []string
}

func main() {
	var (
		databaseURL  string
		productsFile string
		staffKey     string
		providerKey  string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&staffKey, "staff-key", "", "staff API key to seed (or SCANBILL_SEED_STAFF_KEY env)")
	flag.StringVar(&providerKey, "provider-key", "", "payment provider API key to seed (or SCANBILL_SEED_PROVIDER_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SCANBILL_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if staffKey == "" {
		staffKey = os.Getenv("SCANBILL_SEED_STAFF_KEY")
	}
	if providerKey == "" {
		providerKey = os.Getenv("SCANBILL_SEED_PROVIDER_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("SCANBILL_API_KEY_PEPPER")
	}

	keys := []keySpec{
		{id: "staff", name: "Store staff", raw: staffKey, scopes: []string{auth.ScopeOrdersRead}},
		{id: "provider", name: "Payment provider", raw: providerKey, scopes: []string{auth.ScopePaymentsWrite}},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, apiKeyPepper, keys); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, pepper string, keys []keySpec) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	products, err := readProducts(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products")
	}
	catalog := postgres.NewCatalogRepository(pool)
	for _, p := range products {
		if err := catalog.UpsertProduct(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		slog.Info("upserted product", slog.String("barcode", p.Barcode), slog.String("name", p.Name))
	}

	if err := seedAPIKeys(ctx, postgres.NewAPIKeyRepository(pool), pepper, keys); err != nil {
		return errors.Wrap(err, "seed api keys")
	}

	return nil
}

func readProducts(path string) ([]product.Product, error) {
	slog.Info("reading products file", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read products file")
	}

	var raw []productJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "parse products JSON")
	}

	out := make([]product.Product, 0, len(raw))
	for _, p := range raw {
		if p.ID == "" || p.Barcode == "" || p.StoreID == "" {
			return nil, errors.Errorf("product %q: id, barcode and storeId are required", p.Name)
		}
		if p.Price.IsNegative() {
			return nil, errors.Errorf("product %s: negative price", p.ID)
		}
		out = append(out, product.Product{
			ID:       p.ID,
			Barcode:  p.Barcode,
			StoreID:  p.StoreID,
			Name:     p.Name,
			Category: p.Category,
			Price:    p.Price,
		})
	}
	return out, nil
}

type apiKeyStore interface {
	UpsertAPIKey(ctx context.Context, info auth.APIKeyInfo) error
}

func seedAPIKeys(ctx context.Context, store apiKeyStore, pepper string, keys []keySpec) error {
	authn := auth.NewAuthenticator(nil, []byte(pepper))
	for _, k := range keys {
		if k.raw == "" {
			slog.Info("no key given, skipped", slog.String("id", k.id))
			continue
		}
		if err := store.UpsertAPIKey(ctx, auth.APIKeyInfo{
			ID:      k.id,
			KeyHash: authn.Hash(k.raw),
			Name:    k.name,
			Scopes:  k.scopes,
		}); err != nil {
			return errors.Wrapf(err, "upsert api key %s", k.id)
		}
		slog.Info("upserted API key", slog.String("id", k.id), slog.String("name", k.name))
	}
	return nil
}
