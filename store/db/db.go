// Package db selects the database driver for the configured profile.
package db

import (
	"github.com/pkg/errors"

	"github.com/parleychat/parley/internal/profile"
	"github.com/parleychat/parley/store"
	"github.com/parleychat/parley/store/db/sqlite"
)

// NewDBDriver creates a new database driver based on the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "sqlite":
		return sqlite.NewDB(profile)
	default:
		return nil, errors.Errorf("unsupported driver: %s", profile.Driver)
	}
}
