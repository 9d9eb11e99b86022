package cli

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/tenantstack/tenantstack/internal/store"
)

// openStore connects to the configured database. CLI commands operate on the
// same store the server does; they do not go through the HTTP surface.
func openStore() (*store.Store, error) {
	st, err := store.Open(viper.GetString("database.driver"), viper.GetString("database.dsn"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}
