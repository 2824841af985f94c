package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedTimeProvider struct {
	now   time.Time
	since time.Duration
}

func (f fixedTimeProvider) Now() time.Time                  { return f.now }
func (f fixedTimeProvider) Since(t time.Time) time.Duration { return f.since }

func TestSetDefaultTimeProviderRoundTrip(t *testing.T) {
	fake := fixedTimeProvider{now: time.Unix(1000, 0), since: 42 * time.Millisecond}
	SetDefaultTimeProvider(fake)
	defer SetDefaultTimeProvider(nil)

	assert.Equal(t, TimeProvider(fake), GetDefaultTimeProvider())
}

func TestSetDefaultTimeProviderNilResetsToDefault(t *testing.T) {
	SetDefaultTimeProvider(fixedTimeProvider{})
	SetDefaultTimeProvider(nil)
	_, ok := GetDefaultTimeProvider().(DefaultTimeProvider)
	assert.True(t, ok)
}

// GenKeyPair logs elapsed generation time via the default TimeProvider;
// injecting a fake one should not change its behavior or outcome.
func TestGenKeyPairWithInjectedTimeProvider(t *testing.T) {
	SetDefaultTimeProvider(fixedTimeProvider{now: time.Unix(0, 0), since: time.Millisecond})
	defer SetDefaultTimeProvider(nil)

	a := NewAdapter()
	kp, err := a.GenKeyPair(KEMKyber512)
	require.NoError(t, err)
	assert.NotNil(t, kp.Public)
}
