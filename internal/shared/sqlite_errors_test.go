package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSQLiteConflictClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		busy     bool
		locked   bool
		conflict bool
	}{
		{"nil", nil, false, false, false},
		{"busy", errors.New("SQLITE_BUSY: cannot commit"), true, false, true},
		{"locked", errors.New("database is locked (5)"), false, true, true},
		{"wrapped", fmt.Errorf("insert message: %w", errors.New("database is locked")), false, true, true},
		{"other", errors.New("no such table: messages"), false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.busy, IsSQLiteBusyError(tt.err))
			require.Equal(t, tt.locked, IsSQLiteLockedError(tt.err))
			require.Equal(t, tt.conflict, IsSQLiteConflictError(tt.err))
		})
	}
}
