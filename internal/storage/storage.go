package storage

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/IshaanNene/reviewgoat/internal/config"
	"github.com/IshaanNene/reviewgoat/internal/types"
)

// Sink is a durable, append-only destination for records.
type Sink interface {
	// Open creates the destination and declares its schema.
	Open() error

	// Write persists one record with a single write. It is not safe for
	// concurrent use; the Persister serializes calls.
	Write(rec types.Record) error

	// Reopen closes and reopens the destination for appending,
	// re-declaring the schema if the destination is empty.
	Reopen() error

	// Close flushes and releases the destination.
	Close() error

	// Name returns the sink backend identifier.
	Name() string

	// Location describes where records are written, for summaries.
	Location() string
}

// Columns returns the fixed column order for a storage mode.
func Columns(mode string) []string {
	if mode == "product" {
		return types.ProductColumns
	}
	return types.ReviewColumns
}

// NewSink creates the sink configured by cfg. The sink is not yet opened.
func NewSink(cfg config.StorageConfig, logger *slog.Logger) (Sink, error) {
	name := cfg.FileName
	if name == "" {
		base := "reviews"
		if cfg.Mode == "product" {
			base = "products"
		}
		name = base + "." + cfg.Type
	}
	path := filepath.Join(cfg.OutputPath, name)

	switch cfg.Type {
	case "csv":
		return NewCSVSink(path, Columns(cfg.Mode), logger), nil
	case "jsonl":
		return NewJSONLSink(path, logger), nil
	case "mongodb":
		collection := cfg.Mongo.Collection
		if collection == "" {
			collection = cfg.Mode + "s"
		}
		return NewMongoSink(cfg.Mongo.URI, cfg.Mongo.Database, collection, logger), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
