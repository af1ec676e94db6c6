package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilities_SupportsAttemptAwareBackoff(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
		want bool
	}{
		{
			name: "counting and visibility",
			caps: Capabilities{SupportsDeliveryCounting: true, SupportsVisibilityExtension: true},
			want: true,
		},
		{
			name: "counting only",
			caps: Capabilities{SupportsDeliveryCounting: true},
			want: false,
		},
		{
			name: "visibility only",
			caps: Capabilities{SupportsVisibilityExtension: true},
			want: false,
		},
		{
			name: "neither",
			caps: Capabilities{},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.caps.SupportsAttemptAwareBackoff())
		})
	}
}

func TestBundledCapabilitySets(t *testing.T) {
	assert.Equal(t, "aws", AWSCapabilities.Name)
	assert.True(t, AWSCapabilities.SupportsAttemptAwareBackoff())
	assert.EqualValues(t, 43200, AWSCapabilities.MaxVisibilityTimeout)
	assert.False(t, AWSCapabilities.SupportsOrdering)

	assert.Equal(t, "jetstream", JetStreamCapabilities.Name)
	assert.True(t, JetStreamCapabilities.SupportsAttemptAwareBackoff())
	assert.True(t, JetStreamCapabilities.SupportsOrdering)

	assert.Equal(t, "memory", MemoryCapabilities.Name)
	assert.True(t, MemoryCapabilities.SupportsAttemptAwareBackoff())
}
