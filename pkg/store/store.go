// Package store persists embedded chunks and answers nearest-neighbour
// queries over them.
package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xhad/docseek/internal/types"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config selects and configures a backend.
type Config struct {
	Driver     string
	ConnString string // postgres
	Path       string // sqlite
	TableName  string
	VectorDim  int
	Index      string
	Logger     *zap.Logger
}

// Open returns the backend named by config.Driver.
func Open(ctx context.Context, config Config) (types.VectorStore, error) {
	switch config.Driver {
	case DriverPostgres, "":
		return NewWithConfig(ctx, VectorStoreConfig{
			ConnString: config.ConnString,
			TableName:  config.TableName,
			VectorDim:  config.VectorDim,
			Index:      config.Index,
			Logger:     config.Logger,
		})
	case DriverSQLite:
		return NewSQLite(ctx, SQLiteConfig{
			Path:      config.Path,
			VectorDim: config.VectorDim,
			Logger:    config.Logger,
		})
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", types.ErrInvalidInput, config.Driver)
	}
}
