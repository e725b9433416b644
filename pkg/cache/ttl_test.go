package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicyFor(t *testing.T) {
	tests := []struct {
		resourceType string
		fresh        time.Duration
		stale        time.Duration
	}{
		{"folder_get_tree", 10 * time.Minute, 60 * time.Minute},
		{"email_list", 2 * time.Minute, 10 * time.Minute},
		{"contact_list", 10 * time.Minute, 60 * time.Minute},
		{"search_unified", time.Minute, 5 * time.Minute},
		{"something_unmapped", 5 * time.Minute, 30 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.resourceType, func(t *testing.T) {
			p := PolicyFor(tt.resourceType)
			assert.Equal(t, tt.fresh, p.Fresh)
			assert.Equal(t, tt.stale, p.Stale)
		})
	}
}

func TestPoliciesAreOrdered(t *testing.T) {
	// Fresh must always come before Stale, otherwise the state machine
	// would skip the stale window.
	for resourceType, p := range policies {
		assert.Less(t, p.Fresh, p.Stale, resourceType)
	}
	assert.Less(t, defaultPolicy.Fresh, defaultPolicy.Stale)
}
