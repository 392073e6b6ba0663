package store

import (
	"fmt"
	"path/filepath"
	"strings"

	ierrors "github.com/inkwell-ai/inkwell/internal/errors"
)

// NewKeywordIndex builds the configured sparse-channel backend. "sqlite"
// (the default) shares the primary store's database; "bleve" keeps a
// separate index directory next to the vector data.
func NewKeywordIndex(backend string, primary *SQLiteStore, dataDir string) (KeywordIndex, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "sqlite":
		return NewSQLiteKeywordIndex(primary)
	case "bleve":
		path := ""
		if dataDir != "" {
			path = filepath.Join(dataDir, "keyword.bleve")
		}
		return NewBleveKeywordIndex(path)
	default:
		return nil, ierrors.ValidationError(
			fmt.Sprintf("unknown keyword backend %q (expected sqlite or bleve)", backend), nil)
	}
}
