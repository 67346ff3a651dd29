package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSet(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		list    string
		want    []string
		wantErr bool
	}{
		{name: "single", list: "/a", want: []string{"/a"}},
		{name: "ordered", list: "/a,/b,/c", want: []string{"/a", "/b", "/c"}},
		{name: "whitespace and empties", list: " /a , ,/b,", want: []string{"/a", "/b"}},
		{name: "trailing separator cleaned", list: "/a/,/b//", want: []string{"/a", "/b"}},
		{name: "relative rejected", list: "/a,b", wantErr: true},
		{name: "duplicate rejected", list: "/a,/a/", wantErr: true},
		{name: "empty rejected", list: " , ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := ParseSet(tt.list, ",")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, set.Roots())
			for i, b := range set.Backends() {
				assert.Equal(t, i, b.Index)
			}
		})
	}
}

func TestParseSetCustomDelimiter(t *testing.T) {
	t.Parallel()

	set, err := ParseSet("/a:/b", ":")
	require.NoError(t, err)
	assert.Equal(t, 2, set.Len())
	assert.Equal(t, "/b", set.Backends()[1].String())
}

func TestTranslate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		root    string
		logical string
		want    string
	}{
		{"/a", "/x", "/a/x"},
		{"/a/", "/x", "/a/x"},
		{"/", "/x", "/x"},
		{"/a", "/", "/a"},
		{"/", "/", "/"},
		{"/mnt/nfs1", "/dir/file.txt", "/mnt/nfs1/dir/file.txt"},
		{"/a", "x", "/a/x"},
	}

	for _, tt := range tests {
		t.Run(tt.root+tt.logical, func(t *testing.T) {
			got := Translate(Backend{Root: tt.root}, tt.logical)
			assert.Equal(t, tt.want, got)
		})
	}
}
