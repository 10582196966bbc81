package trigger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ongniud/medalarm/apperrors"
)

func TestQuota_Nil(t *testing.T) {
	var q *Quota
	require.NoError(t, q.Admit(10000))
	require.Zero(t, q.MaxPending())
}

func TestQuota_MaxPending(t *testing.T) {
	q := NewQuota(DefaultMaxPending, 0, 0)
	require.NoError(t, q.Admit(DefaultMaxPending-1))

	err := q.Admit(DefaultMaxPending)
	require.Error(t, err)
	require.Equal(t, apperrors.ErrQuotaExceeded, apperrors.CodeOf(err))
}

func TestQuota_Rate(t *testing.T) {
	q := NewQuota(0, 1, 2)
	require.NoError(t, q.Admit(0))
	require.NoError(t, q.Admit(0))
	require.True(t, apperrors.Is(q.Admit(0), apperrors.ErrQuotaExceeded), "burst exhausted")
}
