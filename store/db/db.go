// Package db selects the concrete store driver from the active profile.
package db

import (
	"github.com/pkg/errors"

	"github.com/replywatch/replywatch/internal/profile"
	"github.com/replywatch/replywatch/store"
	"github.com/replywatch/replywatch/store/db/postgres"
	"github.com/replywatch/replywatch/store/db/sqlite"
)

// NewDBDriver creates a new db driver based on the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unsupported driver: %s", profile.Driver)
	}

	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
