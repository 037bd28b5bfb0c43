package featureflag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFeatureFlag(t *testing.T) {
	f := New([]string{string(FlagDisableCandidateStream)})

	t.Run("run if enabled", func(t *testing.T) {
		var streamDisabled bool
		f.IfSet(FlagDisableCandidateStream, func() {
			streamDisabled = true
		})
		require.True(t, streamDisabled)

		var maintenanceDisabled bool
		f.IfSet(FlagDisableFrameMaintenance, func() {
			maintenanceDisabled = true
		})
		require.False(t, maintenanceDisabled)
	})

	t.Run("run if disabled", func(t *testing.T) {
		var streamEnabled bool
		f.IfNotSet(FlagDisableCandidateStream, func() {
			streamEnabled = true
		})
		require.False(t, streamEnabled)

		var deferredReindex bool
		f.IfNotSet(FlagDisableDeferredReindex, func() {
			deferredReindex = true
		})
		require.True(t, deferredReindex)
	})

	t.Run("is set", func(t *testing.T) {
		require.True(t, f.IsSet(FlagDisableCandidateStream))
		require.False(t, f.IsSet(FlagDisableDeferredReindex))

		var unset FeatureFlag
		require.False(t, unset.IsSet(FlagDisableCandidateStream))
	})
}
