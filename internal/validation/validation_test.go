package validation

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emittr/fourinarow/internal/game"
)

func TestUsername(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"alice", "alice", true},
		{"  bob_1 ", "bob_1", true},
		{"x-y", "x-y", true},
		{"", "", false},
		{"   ", "", false},
		{"a", "", false},
		{"abcdefghijklmnopqrstu", "", false},
		{"bad name", "", false},
		{game.BotName, "", false},
		{"héllo", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := Rules{}.Username(tt.raw)
			if !tt.ok {
				require.Error(t, err)
				assert.True(t, errors.Is(err, game.ErrInvalidUsername))
				kind, _ := game.KindOf(err)
				assert.Equal(t, game.KindValidation, kind)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestColumn(t *testing.T) {
	good := map[string]any{
		"int":         4,
		"float":       float64(4),
		"json number": json.Number("4"),
		"string":      "4",
	}
	for name, raw := range good {
		t.Run(name, func(t *testing.T) {
			col, err := Rules{}.Column(raw)
			require.NoError(t, err)
			assert.Equal(t, 4, col)
		})
	}

	bad := map[string]any{
		"fraction": 2.5,
		"word":     "left",
		"nil":      nil,
		"bool":     true,
		"number":   json.Number("1.5"),
	}
	for name, raw := range bad {
		t.Run(name, func(t *testing.T) {
			_, err := Rules{}.Column(raw)
			assert.True(t, errors.Is(err, game.ErrInvalidColumn))
		})
	}
}

func TestColumnLeavesRangeToSession(t *testing.T) {
	col, err := Rules{}.Column(float64(9))
	require.NoError(t, err)
	assert.Equal(t, 9, col)
}
