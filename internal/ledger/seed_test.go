package ledger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadSeedShippedCatalog(t *testing.T) {
	seed, err := LoadSeed(filepath.Join("..", "..", "configs", "seed.yaml"))
	require.NoError(t, err)

	require.Len(t, seed.Books, 5)
	assert.Equal(t, uint64(10000000000000000), seed.Books[0].Price)
	assert.Equal(t, uint64(100), seed.Books[0].Stock)
}

func TestLoadSeedValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"valid", "books:\n  - title: Dune\n    author: Herbert\n    price: 5\n    stock: 0\n", false},
		{"empty file", "", false},
		{"missing author", "books:\n  - title: Dune\n    price: 5\n", true},
		{"zero price", "books:\n  - title: Dune\n    author: Herbert\n", true},
		{"negative stock", "books:\n  - title: Dune\n    author: Herbert\n    price: 5\n    stock: -1\n", true},
		{"not yaml", "books: [", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadSeed(writeSeed(t, tt.content))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadSeedMissingFile(t *testing.T) {
	_, err := LoadSeed(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplySeed(t *testing.T) {
	l := New(owner)
	svc := NewService(l, discardLogger())
	seed := Seed{Books: []SeedBook{
		{Title: "A", Author: "X", Price: 1, Stock: 1},
		{Title: "B", Author: "Y", Price: 2, Stock: 2},
	}}

	ids, err := ApplySeed(t.Context(), svc, owner, seed)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ids)

	book, ok := l.GetBook(2)
	require.True(t, ok)
	assert.Equal(t, "B", book.Title)
}

func TestApplySeedAsNonOwnerFails(t *testing.T) {
	l := New(owner)
	svc := NewService(l, discardLogger())

	ids, err := ApplySeed(t.Context(), svc, alice, Seed{Books: []SeedBook{{Title: "A", Author: "X", Price: 1}}})
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, ids)
	assert.Empty(t, l.GetAllBookIDs())
}
