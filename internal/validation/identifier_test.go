package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateContentID(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{name: "uuid", id: "3f1c2a9e-4b7d-4c1e-9a55-0d2f1b6c7e88"},
		{name: "slug", id: "winter-campaign_2024"},
		{name: "unicode", id: "café-été"},
		{name: "empty", id: "", wantErr: true},
		{name: "whitespace only", id: "   ", wantErr: true},
		{name: "surrounding whitespace", id: " abc ", wantErr: true},
		{name: "dot", id: ".", wantErr: true},
		{name: "dotdot", id: "..", wantErr: true},
		{name: "slash", id: "a/b", wantErr: true},
		{name: "backslash", id: `a\b`, wantErr: true},
		{name: "colon", id: "c:drive", wantErr: true},
		{name: "newline", id: "a\nb", wantErr: true},
		{name: "nul", id: "a\x00b", wantErr: true},
		{name: "del", id: "a\x7fb", wantErr: true},
		{name: "invalid utf8", id: "a\xffb", wantErr: true},
		{name: "too long", id: strings.Repeat("a", 256), wantErr: true},
		{name: "max length", id: strings.Repeat("a", 255)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateContentID(tt.id)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidIdentifier)
				return
			}
			assert.NoError(t, err)
		})
	}
}
