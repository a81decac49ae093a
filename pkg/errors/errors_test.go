package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niiniyare/abacgate/pkg/abac"
)

func TestFromBucket(t *testing.T) {
	tests := []struct {
		name   string
		bucket abac.ErrorBucket
		want   SpecificationKind
		none   bool
	}{
		{
			name: "critical jmespath entry",
			bucket: abac.ErrorBucket{JMESPath: []abac.ErrorEntry{
				{Message: "bad query", Critical: true},
			}},
			want: KindJMESPath,
		},
		{
			name: "context outranks jmespath",
			bucket: abac.ErrorBucket{
				Context:  []abac.ErrorEntry{{Message: "bad context", Critical: true}},
				JMESPath: []abac.ErrorEntry{{Message: "bad query", Critical: true}},
			},
			want: KindContext,
		},
		{
			name: "non-critical entries yield nothing",
			bucket: abac.ErrorBucket{JMESPath: []abac.ErrorEntry{
				{Message: "soft failure", Critical: false},
			}},
			none: true,
		},
		{name: "empty bucket yields nothing", none: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromBucket(tt.bucket)
			if tt.none {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Kind)
			assert.Equal(t, tt.bucket, got.Errors)
		})
	}
}

func TestSDKErrorIsComparesByCode(t *testing.T) {
	err := NewGrantNotFoundError("g-1")
	assert.True(t, errors.Is(err, NewGrantNotFoundError("g-2")))
	assert.False(t, errors.Is(err, NewLatchNotFoundError("l-1")))
	assert.True(t, IsSDKError(err, CodeGrantNotFound))
}

func TestSDKErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewStartError("storage start failed", cause)
	assert.ErrorIs(t, err, cause)
}

func TestIsSpecificationError(t *testing.T) {
	err := NewRequestError("malformed", abac.ErrorBucket{})
	assert.True(t, IsSpecificationError(err, KindRequest))
	assert.False(t, IsSpecificationError(err, KindGrant))
}
