package database

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fleet-trip-api/pkg/config"
)

func TestDSN(t *testing.T) {
	dsn := DSN(config.DatabaseConfig{
		Host:             "db.internal",
		Port:             5433,
		User:             "fleet",
		Password:         "p@ss:w/rd",
		Name:             "fleet_trips",
		SSLMode:          "require",
		StatementTimeout: 30 * time.Second,
	})

	u, err := url.Parse(dsn)
	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "db.internal:5433", u.Host)
	assert.Equal(t, "/fleet_trips", u.Path)
	password, _ := u.User.Password()
	assert.Equal(t, "p@ss:w/rd", password)
	assert.Equal(t, "require", u.Query().Get("sslmode"))
	assert.Equal(t, "30000", u.Query().Get("statement_timeout"))
}

func TestDSNOmitsUnsetOptions(t *testing.T) {
	u, err := url.Parse(DSN(config.DatabaseConfig{Host: "localhost", Port: 5432, User: "postgres", Name: "fleet"}))
	require.NoError(t, err)
	assert.Empty(t, u.Query().Get("sslmode"))
	assert.Empty(t, u.Query().Get("statement_timeout"))
	assert.Equal(t, "fleet-trip-api", u.Query().Get("application_name"))
}
