package fl_test

import (
	"math"
	"testing"

	"github.com/absmach/fedsync/pkg/fl"
	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalKeepsFloatBits(t *testing.T) {
	t.Parallel()

	payloadNaN := math.Float64frombits(0x7ff8_0000_0000_0001)
	snap := fl.Snapshot{Step: 4, Params: fl.ParameterSet{"w": {payloadNaN, math.Copysign(0, -1), 0.1}}}

	data, err := fl.Marshal(snap)
	require.NoError(t, err)

	var got fl.Snapshot
	require.NoError(t, cbor.Unmarshal(data, &got))
	assert.Equal(t, snap.Step, got.Step)
	assert.True(t, snap.Params.Equal(got.Params))
	assert.Equal(t, uint64(0x7ff8_0000_0000_0001), math.Float64bits(got.Params["w"][0]))
}
