package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func prefixes(parts []Partition) []string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = p.Prefix
	}
	return out
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "default root", raw: "/", want: []string{""}},
		{name: "empty", raw: "", want: []string{""}},
		{name: "two prefixes", raw: "p1/,p2/", want: []string{"p1/", "p2/"}},
		{name: "spaces trimmed", raw: " p1/ ,  p2/", want: []string{"p1/", "p2/"}},
		{name: "duplicates dropped", raw: "p1/,p1/, p1/", want: []string{"p1/"}},
		{name: "root alias dedup", raw: "/,,p1/", want: []string{"", "p1/"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, prefixes(Split(tt.raw)))
		})
	}
}

func TestSplitIndexes(t *testing.T) {
	parts := Split("a,b,c")
	for i, p := range parts {
		assert.Equal(t, i, p.Index)
	}
}

func TestPartitionContains(t *testing.T) {
	p := Partition{Prefix: "p1/"}
	assert.True(t, p.Contains("p1/x"))
	assert.False(t, p.Contains("p2/x"))
	assert.False(t, p.Root())

	root := Partition{}
	assert.True(t, root.Root())
	assert.True(t, root.Contains("anything"))
}
