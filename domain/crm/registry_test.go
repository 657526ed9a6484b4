package crm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-fundraising/nexus/domain/records"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Has(records.SourceHubSpot))

	_, err := r.New(records.SourceHubSpot, nil, Options{})
	assert.ErrorIs(t, err, ErrUnsupportedProvider)

	var gotOpts Options
	r.Register(records.SourceHubSpot, func(creds Credentials, opts Options) (Adapter, error) {
		gotOpts = opts
		return nil, nil
	})
	r.Register(records.SourceBloomerang, func(Credentials, Options) (Adapter, error) { return nil, nil })

	_, err = r.New(records.SourceHubSpot, APIKeyCredentials{APIKey: "k"}, Options{PageSize: 7})
	require.NoError(t, err)
	assert.Equal(t, 7, gotOpts.PageSize)

	assert.Equal(t, []records.Source{records.SourceBloomerang, records.SourceHubSpot}, r.Sources())
}

func TestOptions_WithDefaults(t *testing.T) {
	o := Options{}.WithDefaults("https://api.example.com")
	assert.Equal(t, "https://api.example.com", o.BaseURL)
	assert.Equal(t, 100, o.PageSize)
	assert.NotNil(t, o.HTTPClient)
	assert.NotNil(t, o.Logger)
	assert.NotNil(t, o.Now)

	o = Options{BaseURL: "http://localhost", PageSize: 5}.WithDefaults("https://api.example.com")
	assert.Equal(t, "http://localhost", o.BaseURL)
	assert.Equal(t, 5, o.PageSize)
}

func TestDirection(t *testing.T) {
	tests := []struct {
		dir    Direction
		valid  bool
		pulls  bool
		pushes bool
	}{
		{DirectionPull, true, true, false},
		{DirectionPush, true, false, true},
		{DirectionBidirectional, true, true, true},
		{Direction("sideways"), false, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.dir), func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.dir.Valid())
			assert.Equal(t, tt.pulls, tt.dir.Pulls())
			assert.Equal(t, tt.pushes, tt.dir.Pushes())
		})
	}
}
