package production

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want PlanStatus
	}{
		{"draft", StatusDraft},
		{"approved", StatusApproved},
		{"in_progress", StatusInProgress},
		{"completed", StatusCompleted},
		{"cancelled", StatusCancelled},
		{"черновик", StatusDraft},
		{"в производстве", StatusInProgress},
		// историческая путаница написаний: оба варианта — один статус
		{"утверждён", StatusApproved},
		{"утвержден", StatusApproved},
		{"завершён", StatusCompleted},
		{"завершен", StatusCompleted},
		{"отменён", StatusCancelled},
		{"отменен", StatusCancelled},
	}
	for _, tt := range tests {
		got, err := ParseStatus(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseStatus("готово")
	assert.Error(t, err)
	_, err = ParseStatus("")
	assert.Error(t, err)
}

func TestPlanStatusEditable(t *testing.T) {
	assert.True(t, StatusDraft.Editable())
	for _, s := range []PlanStatus{StatusApproved, StatusInProgress, StatusCompleted, StatusCancelled} {
		assert.False(t, s.Editable(), string(s))
	}
}

func TestPlanProgress(t *testing.T) {
	p := Plan{QuantityKg: 200}
	assert.InDelta(t, 0, p.Progress(nil), 1e-9)
	assert.InDelta(t, 75, p.Progress([]Batch{{WeightKg: 100}, {WeightKg: 50}}), 1e-9)

	empty := Plan{QuantityKg: 0}
	assert.Zero(t, empty.Progress([]Batch{{WeightKg: 10}}))
}
