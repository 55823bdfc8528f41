package ddl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamlint/pg-implicit/pgerror"
)

func TestParseTimeOption(t *testing.T) {
	tests := []struct {
		text string
		want TimeOption
	}{
		{"", TimeUnspecified},
		{"   ", TimeUnspecified},
		{"WITH TIME", TimeWith},
		{"with time", TimeWith},
		{"WITH IMPLICIT TIME", TimeWith},
		{"IMPLICIT TIME", TimeWith},
		{"WITHOUT TIME", TimeWithout},
		{"WITH (implicit_time)", TimeWith},
		{"WITH ( implicit_time = true )", TimeWith},
		{"with (IMPLICIT_TIME=off)", TimeWithout},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := ParseTimeOption(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTimeOptionErrors(t *testing.T) {
	tests := []struct {
		text     string
		keyword  bool
		location int
	}{
		{"WITH", false, 4},
		{"WITH DATE", true, 5},
		{"WITHOUT", false, 7},
		{"WITHOUT ZONE", true, 8},
		{"IMPLICIT", false, 8},
		{"TIMESTAMP", true, 0},
		{"WITH TIME NOW", false, 10},
		{"WITH (fillfactor)", true, 6},
		{"WITH (implicit_time", false, 19},
		{"WITH (implicit_time = maybe)", true, 22},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			_, err := ParseTimeOption(tt.text)
			pgErr, ok := pgerror.As(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, pgerror.KindSyntax, pgErr.Kind)
			assert.Equal(t, pgerror.CodeSyntaxError, pgErr.Code)
			assert.Equal(t, tt.location, pgErr.Location)
			if tt.keyword {
				assert.Equal(t, "invalid use of the TIME keyword", pgErr.Message)
			} else {
				assert.Equal(t, "syntax error in implicit time clause", pgErr.Message)
			}
		})
	}
}
