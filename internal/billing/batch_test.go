package billing

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func batchInputs(t *testing.T, n int) []Input {
	t.Helper()
	inputs := make([]Input, n)
	for i := range inputs {
		a := meterAbonent()
		a.ID = fmt.Sprintf("a-%03d", i)
		if i%5 == 0 {
			a.CurrentMeterReading = nil
		}
		inputs[i] = Input{Abonent: a, Period: mustPeriod(t, "2024-03"), Tariffs: testTariffs()}
	}
	return inputs
}

func TestComputeBatch(t *testing.T) {
	e := newTestEngine(t)
	inputs := batchInputs(t, 40)

	results := e.ComputeBatch(context.Background(), inputs, 4)
	require.Len(t, results, len(inputs))
	for i, r := range results {
		assert.Equal(t, inputs[i].Abonent.ID, r.AbonentID, "order preserved")
		if i%5 == 0 {
			assert.Nil(t, r.Receipt)
			assert.ErrorIs(t, r.Err, ErrMissingMeterReading)
			continue
		}
		require.NoError(t, r.Err)
		assertDec(t, "384.57", r.Receipt.TotalToPay)
	}
	assert.Len(t, Failed(results), 8)
}

func TestComputeBatchCancelled(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := e.ComputeBatch(ctx, batchInputs(t, 3), 0)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
		assert.Nil(t, r.Receipt)
	}
}
