package meta

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"
)

type sample struct {
	Name   string `json:"name" yaml:"name"`
	Secret string `json:"secret" yaml:"secret"`
}

func TestService_Load(t *testing.T) {
	t.Setenv("TG_META_SECRET", "s3cr3t")
	ctx := context.Background()
	fs := afs.New()
	require.NoError(t, fs.Upload(ctx, "mem://localhost/meta/app.yaml", 0644, strings.NewReader("name: gate\nsecret: ${env.TG_META_SECRET}\n")))
	require.NoError(t, fs.Upload(ctx, "mem://localhost/meta/app.json", 0644, strings.NewReader(`{"name":"gate-json"}`)))

	srv := New(fs, "mem://localhost/meta")
	testCases := []struct {
		description string
		location    string
		expect      sample
		expectErr   bool
	}{
		{description: "yaml relative", location: "app.yaml", expect: sample{Name: "gate", Secret: "s3cr3t"}},
		{description: "json absolute", location: "mem://localhost/meta/app.json", expect: sample{Name: "gate-json"}},
		{description: "missing", location: "none.yaml", expectErr: true},
	}
	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			actual := sample{}
			err := srv.Load(ctx, testCase.location, &actual)
			if testCase.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testCase.expect, actual)
		})
	}
}
