package provision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpectedParticipants(t *testing.T) {
	got := ExpectedParticipants("mia", []string{"zoe", "alex"})
	assert.Equal(t, []string{"alex", "mia", "zoe"}, got)
}

func TestExpectedParticipantsDeduplicates(t *testing.T) {
	got := ExpectedParticipants("alex", []string{"alex", "zoe", "zoe"})
	assert.Equal(t, []string{"alex", "zoe"}, got)
}

func TestSetKeyOrderIndependent(t *testing.T) {
	a := SetKey([]string{"alex", "mia", "zoe"})
	b := SetKey([]string{"zoe", "alex", "mia"})
	assert.Equal(t, a, b)

	c := SetKey([]string{"alex", "mia"})
	assert.NotEqual(t, a, c)
}

func TestSameSet(t *testing.T) {
	assert.True(t, sameSet([]string{"b", "a"}, []string{"a", "b"}))
	assert.True(t, sameSet([]string{"a", "a", "b"}, []string{"b", "a"}))
	assert.False(t, sameSet([]string{"a", "b"}, []string{"a", "b", "c"}))
	assert.False(t, sameSet([]string{"a"}, nil))
	assert.True(t, sameSet(nil, nil))
}
