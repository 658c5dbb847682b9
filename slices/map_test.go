package slices

import (
	"strconv"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestMap(t *testing.T) {
	testCases := []struct {
		name     string
		slice    []int
		expected []string
	}{
		{
			name: "nil maps to nil",
		},
		{
			name:     "projection",
			slice:    []int{1, 2, 3},
			expected: []string{"1", "2", "3"},
		},
	}

	for _, tc := range testCases {
		actual := Map(tc.slice, strconv.Itoa)
		assert.Equal(t, tc.expected, actual, tc.name)
	}
}

func TestMapWithErr(t *testing.T) {
	ok := func(n int) (string, error) { return strconv.Itoa(n), nil }
	boom := func(n int) (string, error) { return "", errors.New("boom") }

	actual, err := MapWithErr([]int{1, 2}, ok)
	assert.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, actual)

	_, err = MapWithErr([]int{1, 2}, boom)
	assert.Error(t, err)
}

func TestReverse(t *testing.T) {
	testCases := []struct {
		name     string
		slice    []int
		expected []int
	}{
		{
			name: "nil",
		},
		{
			name:     "singleton",
			slice:    []int{1},
			expected: []int{1},
		},
		{
			name:     "reverse",
			slice:    []int{3, 2, 1},
			expected: []int{1, 2, 3},
		},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, Reverse(tc.slice), tc.name)
	}
}
