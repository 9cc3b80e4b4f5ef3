package internal

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var groupTests = map[int]struct {
	failed, total, tolerance int
	expected                 bool
}{
	0: {0, 10, 20, false},
	1: {1, 10, 20, false},
	2: {2, 10, 20, false},
	3: {3, 10, 20, true},
	4: {1, 1, 0, true},
	5: {0, 1, 0, false},
	6: {1, 3, 33, true},
	7: {1, 3, 34, false},
	8: {10, 10, 100, false},
	9: {0, 0, 0, false},
}

func TestGroupFailed(t *testing.T) {
	for i, tt := range groupTests {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			assert.Equal(t, tt.expected, GroupFailed(tt.failed, tt.total, tt.tolerance))
		})
	}
}

func TestToleratedFailuresMatchesGroupFailed(t *testing.T) {
	for total := 1; total <= 20; total++ {
		for tolerance := 0; tolerance <= 100; tolerance += 5 {
			tolerated := ToleratedFailures(total, tolerance)
			assert.False(t, GroupFailed(tolerated, total, tolerance), "total=%d tolerance=%d", total, tolerance)
			if tolerated < total {
				assert.True(t, GroupFailed(tolerated+1, total, tolerance), "total=%d tolerance=%d", total, tolerance)
			}
		}
	}
	assert.Equal(t, 2, ToleratedFailures(10, 20))
}

var amountTests = map[int]struct {
	amount   any
	total    int
	expected int
	err      bool
}{
	0:  {nil, 5, 0, false},
	1:  {3, 5, 3, false},
	2:  {float64(2), 5, 2, false},
	3:  {"4", 5, 4, false},
	4:  {"50%", 5, 2, false},
	5:  {"10%", 5, 1, false},
	6:  {"100%", 7, 7, false},
	7:  {"0%", 7, 0, false},
	8:  {"150%", 7, 0, true},
	9:  {"lots", 7, 0, true},
	10: {-1, 7, 0, true},
	11: {1.5, 7, 0, true},
	12: {true, 7, 0, true},
}

func TestAmount(t *testing.T) {
	for i, tt := range amountTests {
		t.Run(fmt.Sprintf("%d", i), func(t *testing.T) {
			amount, err := Amount(tt.amount, tt.total)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, amount)
		})
	}
}

func TestProgress(t *testing.T) {
	assert.Equal(t, 0, Progress(0, 3))
	assert.Equal(t, 33, Progress(1, 3))
	assert.Equal(t, 100, Progress(3, 3))
	assert.Equal(t, 100, Progress(0, 0))
}
