package postgres

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReplicaURLs(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty string", input: "", expected: nil},
		{name: "single URL", input: "postgres://localhost:5432/db", expected: []string{"postgres://localhost:5432/db"}},
		{
			name:     "whitespace and empty entries",
			input:    " postgres://host1/db , ,postgres://host2/db ",
			expected: []string{"postgres://host1/db", "postgres://host2/db"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseReplicaURLs(tt.input))
		})
	}
}

func TestReplicaFallsBackToPrimary(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	cm := &ConnectionManager{primary: db}
	assert.Same(t, db, cm.Replica())
	assert.Equal(t, 0, cm.ReplicaCount())

	mock.ExpectPing()
	require.NoError(t, cm.HealthCheck(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplicaRoundRobin(t *testing.T) {
	primary, _, err := sqlmock.New()
	require.NoError(t, err)
	defer primary.Close()
	r1, _, err := sqlmock.New()
	require.NoError(t, err)
	defer r1.Close()
	r2, _, err := sqlmock.New()
	require.NoError(t, err)
	defer r2.Close()

	cm := &ConnectionManager{primary: primary, replicas: []*sql.DB{r1, r2}}
	first := cm.Replica()
	second := cm.Replica()
	assert.NotSame(t, first, second)
	assert.Same(t, first, cm.Replica())
}
