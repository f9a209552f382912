package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNonceFactoryUniqueness(t *testing.T) {
	nf, err := NewNonceFactory(t.TempDir())
	require.NoError(t, err)

	seen := make(map[Nonce]bool)
	for i := 0; i < nonceReservationBlock*2+10; i++ {
		n, err := nf.Next()
		require.NoError(t, err)
		require.False(t, seen[n], "nonce reused at iteration %d", i)
		seen[n] = true
	}
}

func TestNonceFactorySurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	nf1, err := NewNonceFactory(dir)
	require.NoError(t, err)

	seen := make(map[Nonce]bool)
	for i := 0; i < 100; i++ {
		n, err := nf1.Next()
		require.NoError(t, err)
		seen[n] = true
	}

	// Simulate a process restart without a clean shutdown.
	nf2, err := NewNonceFactory(dir)
	require.NoError(t, err)

	for i := 0; i < nonceReservationBlock*2; i++ {
		n, err := nf2.Next()
		require.NoError(t, err)
		assert.False(t, seen[n], "nonce reused after restart")
	}
}

func TestNonceFactoryConcurrent(t *testing.T) {
	nf, err := NewNonceFactory(t.TempDir())
	require.NoError(t, err)

	const workers = 8
	const perWorker = 500

	results := make(chan Nonce, workers*perWorker)
	for w := 0; w < workers; w++ {
		go func() {
			for i := 0; i < perWorker; i++ {
				n, err := nf.Next()
				if err != nil {
					t.Error(err)
					return
				}
				results <- n
			}
		}()
	}

	seen := make(map[Nonce]bool)
	for i := 0; i < workers*perWorker; i++ {
		n := <-results
		require.False(t, seen[n], "concurrent nonce collision")
		seen[n] = true
	}
}
