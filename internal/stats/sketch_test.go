package stats

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountMinSketchNeverUnderestimates(t *testing.T) {
	cms := NewDefaultCountMinSketch()
	counts := map[string]int{"a": 5, "b": 12, "c": 1}
	for k, n := range counts {
		for i := 0; i < n; i++ {
			cms.Add([]byte(k), 1)
		}
	}
	for k, n := range counts {
		require.GreaterOrEqual(t, cms.Freq([]byte(k)), float64(n))
	}
}

func TestHyperLogLogEstimateWithinFivePercentAtScale(t *testing.T) {
	hll := NewDefaultHyperLogLog()
	const n = 1_000_000
	for i := 0; i < n; i++ {
		hll.Add([]byte(fmt.Sprintf("item-%d", i)))
	}
	est := hll.Estimate()
	err := math.Abs(est-n) / n
	require.Less(t, err, 0.05, "estimate %v vs true %v", est, n)
}

func TestHyperLogLogRepeatedAddDoesNotInflate(t *testing.T) {
	hll := NewDefaultHyperLogLog()
	for i := 0; i < 1000; i++ {
		hll.Add([]byte("same-value"))
	}
	require.Less(t, hll.Estimate(), 5.0)
}
