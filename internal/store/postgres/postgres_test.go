package postgres

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/curveswap/internal/domain"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: "postgres://a@b/c", Host: "ignored"},
			want: "postgres://a@b/c",
		},
		{
			name: "defaults port and sslmode",
			cfg:  ClientConfig{Host: "db", Database: "curveswap", User: "swap", Password: "p@ss"},
			want: "postgres://swap:p%40ss@db:5432/curveswap?sslmode=disable",
		},
		{
			name: "explicit port and sslmode",
			cfg:  ClientConfig{Host: "db", Port: 6543, Database: "x", User: "u", SSLMode: "require"},
			want: "postgres://u:@db:6543/x?sslmode=require",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DSN(tt.cfg))
		})
	}
}

func TestListQuery(t *testing.T) {
	since := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(time.Hour)

	q := newListQuery(`SELECT id FROM events WHERE pool = $1`, "0xabc")
	q.page("occurred_at", domain.ListOpts{Since: &since, Until: &until, Limit: 10, Offset: 20})

	assert.Equal(t,
		`SELECT id FROM events WHERE pool = $1 AND occurred_at >= $2 AND occurred_at <= $3 ORDER BY occurred_at DESC LIMIT $4 OFFSET $5`,
		q.String())
	assert.Equal(t, []any{"0xabc", since, until, 10, 20}, q.args)

	bare := newListQuery(`SELECT id FROM audit_log WHERE 1=1`)
	bare.page("created_at", domain.ListOpts{})
	assert.Equal(t, `SELECT id FROM audit_log WHERE 1=1 ORDER BY created_at DESC`, bare.String())
	assert.Empty(t, bare.args)
}

func TestDecimalRoundTrip(t *testing.T) {
	assert.Equal(t, "0", decimal(nil))

	max := new(uint256.Int).SetAllOne()
	v, err := parseDecimal("balance", decimal(max))
	require.NoError(t, err)
	assert.Equal(t, max, v)

	_, err = parseDecimal("balance", "-1")
	require.Error(t, err)
}

func TestMigrationNames(t *testing.T) {
	names, err := migrationNames()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_init.sql"}, names)
}
