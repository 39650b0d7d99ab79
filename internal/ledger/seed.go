package ledger

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"bookledger/internal/access"
)

// SeedBook is one catalog entry of a seed file. Price is in the smallest
// currency unit.
type SeedBook struct {
	Title  string `yaml:"title"`
	Author string `yaml:"author"`
	Price  uint64 `yaml:"price"`
	Stock  uint64 `yaml:"stock"`
}

// Seed is an initial catalog.
type Seed struct {
	Books []SeedBook `yaml:"books"`
}

// LoadSeed reads and validates a YAML seed file.
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, err
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	for i, b := range seed.Books {
		if b.Title == "" || b.Author == "" || b.Price == 0 {
			return Seed{}, fmt.Errorf("invalid %s: book %d needs title, author and a positive price", path, i+1)
		}
	}
	return seed, nil
}

// ApplySeed adds every seed book as owner, in file order, and returns the
// assigned ids. It stops at the first failure.
func ApplySeed(ctx context.Context, svc Service, owner access.Principal, seed Seed) ([]uint64, error) {
	ids := make([]uint64, 0, len(seed.Books))
	for _, b := range seed.Books {
		id, err := svc.AddBook(ctx, owner, b.Title, b.Author, b.Price, b.Stock)
		if err != nil {
			return ids, fmt.Errorf("seeding %q: %w", b.Title, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
