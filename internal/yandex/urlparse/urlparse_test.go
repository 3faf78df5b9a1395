package urlparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantOrgID string
		wantHost  string
		wantSlug  string
		wantErr   bool
	}{
		{
			name:      "slug and digits, ru mirror",
			input:     "https://yandex.ru/maps/org/samoye_populyarnoye_kafe/1010501395/reviews/",
			wantOrgID: "1010501395",
			wantHost:  "ru",
			wantSlug:  "samoye_populyarnoye_kafe",
		},
		{
			name:      "digits only",
			input:     "https://yandex.com/maps/org/123456789",
			wantOrgID: "123456789",
			wantHost:  "com",
		},
		{
			name:      "oid query param",
			input:     "https://yandex.ru/maps/?oid=987654321",
			wantOrgID: "987654321",
			wantHost:  "ru",
		},
		{
			name:      "oid substring anywhere",
			input:     "some wrapper text oid=555551234 trailer",
			wantOrgID: "555551234",
			wantHost:  "ru",
		},
		{
			name:    "malformed, no digits",
			input:   "https://yandex.ru/maps/org/not-an-id/",
			wantErr: true,
		},
		{
			name:    "empty input",
			input:   "",
			wantErr: true,
		},
		{
			name:    "too-short id rejected",
			input:   "https://yandex.ru/maps/org/1234",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOrgID, res.OrgID)
			assert.Equal(t, tt.wantHost, res.HostTag)
			assert.Equal(t, tt.wantSlug, res.Slug)
		})
	}
}

func TestParse_Idempotent(t *testing.T) {
	const u = "https://yandex.ru/maps/org/slug/1010501395/reviews/"
	first, err := Parse(u)
	require.NoError(t, err)

	// Re-parsing the extracted org id alone (wrapped back into a minimal URL
	// form) must yield the same org id — idempotence over the id itself.
	second, err := Parse("https://yandex.ru/maps/org/" + first.OrgID)
	require.NoError(t, err)
	assert.Equal(t, first.OrgID, second.OrgID)
}

func TestParse_NeverPanics(t *testing.T) {
	inputs := []string{
		"", " ", "not a url at all", "http://", "://broken",
		"https://yandex.ru/maps/org//", "oid=", "oid=abc",
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			_, _ = Parse(in)
		})
	}
}
