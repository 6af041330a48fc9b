package dispatch

import (
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/telltale/internal/hardware"
	"github.com/mattjoyce/telltale/internal/hardware/mocks"
	"github.com/mattjoyce/telltale/internal/prop"
	"github.com/mattjoyce/telltale/internal/transport"
)

func mockConfigs() []prop.Config {
	return []prop.Config{
		{Prop: 0x0100, Type: prop.TypeInt32},
		{Prop: 0x0200, Type: prop.TypeFloat},
	}
}

func TestNewServiceLoadsConfigsOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	backend := mocks.NewMockBackend(ctrl)
	backend.EXPECT().AllPropertyConfigs().Return(mockConfigs(), nil).Times(1)

	store, err := transport.NewFileStore(t.TempDir())
	require.NoError(t, err)

	svc, err := NewService(backend, WithBufferStore(store))
	require.NoError(t, err)
	defer svc.Close()

	assert.Equal(t, 2, svc.Schema().Len())

	// Further schema reads hit the snapshot, not the backend.
	_, ok := svc.Schema().Lookup(0x0100)
	assert.True(t, ok)
}

func TestNewServiceConfigLoadFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	backend := mocks.NewMockBackend(ctrl)
	backend.EXPECT().AllPropertyConfigs().Return(nil, errors.New("hardware not ready"))

	_, err := NewService(backend)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load property configs")
}

func TestNewServiceRejectsConflictingConfigs(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	backend := mocks.NewMockBackend(ctrl)
	backend.EXPECT().AllPropertyConfigs().Return([]prop.Config{
		{Prop: 0x0100, Type: prop.TypeInt32},
		{Prop: 0x0100, Type: prop.TypeFloat},
	}, nil)

	_, err := NewService(backend)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build schema")
}

// A backend that completes inside the submit call must not deadlock the
// dispatcher; the delivery happens before GetValues returns.
func TestSynchronousBackendCompletion(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	backend := mocks.NewMockBackend(ctrl)
	backend.EXPECT().AllPropertyConfigs().Return(mockConfigs(), nil)
	backend.EXPECT().GetValuesAsync(gomock.Any(), gomock.Any()).DoAndReturn(
		func(reqs []prop.GetRequest, done hardware.GetDone) error {
			results := make([]prop.GetResult, len(reqs))
			for i, r := range reqs {
				v := prop.Value{Prop: r.Value.Prop, Area: r.Value.Area, Payload: prop.Int32s(7), Timestamp: 1}
				results[i] = prop.GetResult{RequestID: r.RequestID, Status: prop.StatusOK, Value: &v}
			}
			done(results)
			return nil
		})

	store, err := transport.NewFileStore(t.TempDir())
	require.NoError(t, err)
	svc, err := NewService(backend, WithBufferStore(store))
	require.NoError(t, err)
	defer svc.Close()

	client := newCaptureClient(store)
	env, err := encodeGetsErr(store, []prop.GetRequest{
		{RequestID: 1, Value: prop.Value{Prop: 0x0100}},
	})
	require.NoError(t, err)

	require.NoError(t, svc.GetValues(client, env))

	select {
	case batch := <-client.gets:
		require.Len(t, batch, 1)
		assert.Equal(t, int64(1), batch[0].RequestID)
		assert.Equal(t, prop.StatusOK, batch[0].Status)
	default:
		t.Fatal("synchronous completion must deliver before the call returns")
	}
	assert.Equal(t, 0, svc.CountPendingRequests())
}

// The mock records what the dispatcher submits: only validated requests,
// original order preserved.
func TestBackendReceivesOnlyValidRequests(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var submitted []prop.SetRequest
	backend := mocks.NewMockBackend(ctrl)
	backend.EXPECT().AllPropertyConfigs().Return(mockConfigs(), nil)
	backend.EXPECT().SetValuesAsync(gomock.Any(), gomock.Any()).DoAndReturn(
		func(reqs []prop.SetRequest, done hardware.SetDone) error {
			submitted = append(submitted, reqs...)
			results := make([]prop.SetResult, len(reqs))
			for i, r := range reqs {
				results[i] = prop.SetResult{RequestID: r.RequestID, Status: prop.StatusOK}
			}
			done(results)
			return nil
		})

	store, err := transport.NewFileStore(t.TempDir())
	require.NoError(t, err)
	svc, err := NewService(backend, WithBufferStore(store))
	require.NoError(t, err)
	defer svc.Close()

	client := newCaptureClient(store)
	env, err := encodeSetsErr(store, []prop.SetRequest{
		{RequestID: 1, Value: prop.Value{Prop: 0x0100, Payload: prop.Int32s(5)}},
		{RequestID: 2, Value: prop.Value{Prop: 0x0100, Area: 9, Payload: prop.Int32s(5)}}, // no such area
		{RequestID: 3, Value: prop.Value{Prop: 0x0200, Payload: prop.Floats(1.5)}},
	})
	require.NoError(t, err)
	require.NoError(t, svc.SetValues(client, env))

	require.Len(t, submitted, 2)
	assert.Equal(t, int64(1), submitted[0].RequestID)
	assert.Equal(t, int64(3), submitted[1].RequestID)

	// Both batches arrive: the INVALID_ARG one first, then the OK one.
	first := waitSetBatch(t, client.sets)
	require.Len(t, first, 1)
	assert.Equal(t, prop.StatusInvalidArg, first[0].Status)

	second := waitSetBatch(t, client.sets)
	require.Len(t, second, 2)
	for _, r := range second {
		assert.Equal(t, prop.StatusOK, r.Status)
	}
}

func TestBackendSubmitErrorWithMock(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	backend := mocks.NewMockBackend(ctrl)
	backend.EXPECT().AllPropertyConfigs().Return(mockConfigs(), nil)
	backend.EXPECT().GetValuesAsync(gomock.Any(), gomock.Any()).Return(
		prop.Errorf(prop.StatusInternalError, "hardware fault"))

	store, err := transport.NewFileStore(t.TempDir())
	require.NoError(t, err)
	svc, err := NewService(backend, WithBufferStore(store))
	require.NoError(t, err)
	defer svc.Close()

	client := newCaptureClient(store)
	env, err := encodeGetsErr(store, []prop.GetRequest{
		{RequestID: 1, Value: prop.Value{Prop: 0x0100}},
	})
	require.NoError(t, err)

	err = svc.GetValues(client, env)
	require.Error(t, err)
	assert.Equal(t, prop.StatusInternalError, prop.StatusOf(err))
	assert.Equal(t, 0, svc.CountPendingRequests())

	// The callback never fires, not even a timeout, because the failed
	// sub-batch was retired on the spot.
	select {
	case batch := <-client.gets:
		t.Fatalf("unexpected delivery: %+v", batch)
	case <-time.After(300 * time.Millisecond):
	}
}
