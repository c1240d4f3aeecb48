package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIndex struct {
	body  string
	err   error
	calls int
	url   string
}

func (f *fakeIndex) GetJSON(_ context.Context, url string, v any) error {
	f.calls++
	f.url = url
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.body), v)
}

const testIndex = `[
	{"version":"v23.1.0","lts":false},
	{"version":"v22.11.0","lts":"Jod"},
	{"version":"v22.10.0","lts":false},
	{"version":"v20.18.0","lts":"Iron"},
	{"version":"v20.9.0","lts":"Iron"},
	{"version":"v24.0.0-rc.1","lts":false}
]`

func TestResolveTarget(t *testing.T) {
	tests := []struct {
		target string
		want   string
	}{
		{"lts", "22.11.0"},
		{"latest", "23.1.0"},
		{"20", "20.18.0"},
		{"v22", "22.11.0"},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			idx := &fakeIndex{body: testIndex}

			got, err := ResolveTarget(context.Background(), idx, "https://nodejs.org/dist/", tt.target)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
			assert.Equal(t, "https://nodejs.org/dist/index.json", idx.url)
		})
	}
}

func TestResolveTarget_ExactSkipsNetwork(t *testing.T) {
	idx := &fakeIndex{err: errors.New("network must not be used")}

	got, err := ResolveTarget(context.Background(), idx, "https://nodejs.org/dist", "18.0.0")
	require.NoError(t, err)
	assert.Equal(t, "18.0.0", got.String())
	assert.Equal(t, 0, idx.calls)
}

func TestResolveTarget_Errors(t *testing.T) {
	_, err := ResolveTarget(context.Background(), &fakeIndex{body: testIndex}, "", "")
	assert.ErrorContains(t, err, "a target version is required")

	_, err = ResolveTarget(context.Background(), &fakeIndex{body: testIndex}, "", "banana")
	assert.ErrorContains(t, err, "invalid target")

	_, err = ResolveTarget(context.Background(), &fakeIndex{body: testIndex}, "", "14")
	assert.ErrorContains(t, err, "no release matches")

	_, err = ResolveTarget(context.Background(), &fakeIndex{err: errors.New("offline")}, "", "lts")
	assert.ErrorContains(t, err, "failed to load release index")
}
