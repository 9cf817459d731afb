package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig_HasSaneDefaults(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Checkpoint.DefaultCircuitBreakerThreshold)
	assert.Equal(t, 60, cfg.Checkpoint.DefaultCircuitBreakerWindowMinutes)
	assert.True(t, cfg.Checkpoint.SeedOnStartup)
	assert.NoError(t, cfg.Validate())
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cases := []struct {
		driver string
		want   string
	}{
		{"sqlite", "checkpointd.db"},
	}
	for _, tc := range cases {
		d := DefaultDatabaseConfig()
		d.Driver = tc.driver
		assert.Equal(t, tc.want, d.DSN())
	}

	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Contains(t, pg.DSN(), "host=db")

	mysql := DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "n"}
	assert.Contains(t, mysql.DSN(), "tcp(db:3306)")
}
