package collective

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anupzope-go/perfoscope/internal/collective/inprocess"
	"github.com/anupzope-go/perfoscope/internal/collective/local"
	"github.com/anupzope-go/perfoscope/internal/domain"
)

func TestSyncSingleRankValidatesOnly(t *testing.T) {
	spec := &domain.ProfileSpec{Name: "p", Events: []string{"e1"}, Categories: []string{"c1"}}
	err := Sync(local.New(), spec, 0)
	assert.NoError(t, err)
}

func TestSyncSingleRankRejectsInvalid(t *testing.T) {
	spec := &domain.ProfileSpec{Name: "p", Categories: nil}
	err := Sync(local.New(), spec, 0)
	assert.ErrorIs(t, err, domain.ErrSchemaInconsistent)
}

func TestSyncReplicatesRootSpecAcrossRanks(t *testing.T) {
	const n = 4
	world := inprocess.NewWorld(n)

	root := &domain.ProfileSpec{
		Name:       "training-loop",
		Events:     []string{"PAPI_TOT_CYC", "PAPI_TOT_INS"},
		Categories: []string{"forward", "backward"},
	}

	results := make([]*domain.ProfileSpec, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			var spec domain.ProfileSpec
			if i == 0 {
				spec = root.Clone()
			}
			err := Sync(world.Rank(i), &spec, 0)
			results[i] = &spec
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, root.Name, results[i].Name)
		assert.Equal(t, root.Events, results[i].Events)
		assert.Equal(t, root.Categories, results[i].Categories)
	}
}

func TestEncodeDecodeCountersRoundTrip(t *testing.T) {
	values := []int64{1, -2, 1 << 40}
	assert.Equal(t, values, DecodeCounters(EncodeCounters(values)))
}

func TestEncodeDecodeTimeRoundTrip(t *testing.T) {
	assert.InDelta(t, 1.25, DecodeTime(EncodeTime(1.25)), 1e-12)
}

func TestInprocessSendRecv(t *testing.T) {
	world := inprocess.NewWorld(2)
	var wg sync.WaitGroup
	wg.Add(2)

	var recvd []byte
	go func() {
		defer wg.Done()
		require.NoError(t, world.Rank(0).Send(1, 7, []byte("payload")))
	}()
	go func() {
		defer wg.Done()
		buf := make([]byte, len("payload"))
		require.NoError(t, world.Rank(1).Recv(0, 7, buf))
		recvd = buf
	}()
	wg.Wait()
	assert.Equal(t, "payload", string(recvd))
}

func TestInprocessAllToAllInt(t *testing.T) {
	const n = 3
	world := inprocess.NewWorld(n)
	out := make([][]int, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			vals, err := world.Rank(i).AllToAllInt(i * 10)
			require.NoError(t, err)
			out[i] = vals
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		assert.Equal(t, []int{0, 10, 20}, out[i])
	}
}
