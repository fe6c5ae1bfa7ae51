package store

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wirebus/pkg/codec"
	"wirebus/pkg/isa"
	"wirebus/pkg/peripherals"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "wirebus.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestImageLifecycle(t *testing.T) {
	s := openTestStore(t)
	first := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return first }

	words := []uint64{1, 5, 1, 3, 6, 14}
	require.NoError(t, s.PutImage("add", words, isa.Width8))

	img, err := s.GetImage("add")
	require.NoError(t, err)
	assert.Equal(t, "add", img.Name)
	assert.Equal(t, isa.Width8, img.Width)
	assert.Equal(t, words, img.Words)
	assert.Equal(t, first, img.Created)

	later := first.Add(time.Hour)
	s.now = func() time.Time { return later }
	require.NoError(t, s.PutImage("add", []uint64{1, 300, 14}, isa.Width16))

	img, err = s.GetImage("add")
	require.NoError(t, err)
	assert.Equal(t, isa.Width16, img.Width)
	assert.Equal(t, []uint64{1, 300, 14}, img.Words)
	assert.Equal(t, first, img.Created, "replacing keeps the creation time")
	assert.Equal(t, later, img.Modified)

	require.NoError(t, s.DeleteImage("add"))
	_, err = s.GetImage("add")
	assert.ErrorIs(t, err, ErrImageNotFound)
	assert.ErrorIs(t, s.DeleteImage("add"), ErrImageNotFound)
}

func TestListImages(t *testing.T) {
	s := openTestStore(t)
	imgs, err := s.ListImages()
	require.NoError(t, err)
	assert.Empty(t, imgs)

	require.NoError(t, s.PutImage("pump", []uint64{14}, isa.Width8))
	require.NoError(t, s.PutImage("fan", []uint64{14}, isa.Width32))

	imgs, err = s.ListImages()
	require.NoError(t, err)
	require.Len(t, imgs, 2)
	assert.Equal(t, "fan", imgs[0].Name)
	assert.Equal(t, isa.Width32, imgs[0].Width)
	assert.Equal(t, "pump", imgs[1].Name)
	assert.Nil(t, imgs[0].Words)
}

func TestImageNames(t *testing.T) {
	s := openTestStore(t)
	tests := []struct {
		name  string
		valid bool
	}{
		{"main", true},
		{"boiler_v2.bin", true},
		{"a-b", true},
		{"", false},
		{"../etc", false},
		{".hidden", false},
		{"has space", false},
		{"x/y", false},
	}
	for _, tc := range tests {
		err := s.PutImage(tc.name, []uint64{14}, isa.Width8)
		if tc.valid {
			assert.NoError(t, err, tc.name)
		} else {
			assert.ErrorIs(t, err, ErrInvalidName, tc.name)
		}
	}
	_, err := s.GetImage("../etc")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestPutImageRejectsBadImage(t *testing.T) {
	s := openTestStore(t)
	err := s.PutImage("big", []uint64{256}, isa.Width8)
	assert.ErrorIs(t, err, codec.ErrValueTooLarge)
}

func TestEvents(t *testing.T) {
	s := openTestStore(t)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	bus := []peripherals.Event{
		{RunID: "r1", Port: 1, Direction: peripherals.DirectionIn, Value: 7, At: at},
		{RunID: "r2", Port: 9, Direction: peripherals.DirectionOut, Value: 1, At: at},
		{RunID: "r1", Port: 2, Direction: peripherals.DirectionOut, Value: ^uint64(0), At: at},
	}
	for _, e := range bus {
		require.NoError(t, s.RecordEvent(e))
	}

	got, err := s.Events("r1")
	require.NoError(t, err)
	assert.Equal(t, []peripherals.Event{bus[0], bus[2]}, got)

	got, err = s.Events("missing")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestConcurrentWrites(t *testing.T) {
	s := openTestStore(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				assert.NoError(t, s.RecordEvent(peripherals.Event{RunID: "c", Port: uint64(i), Value: uint64(j)}))
			}
		}(i)
	}
	wg.Wait()

	got, err := s.Events("c")
	require.NoError(t, err)
	assert.Len(t, got, 80)
}

func TestInMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.PutImage("m", []uint64{14}, isa.Width8))
	_, err = s.GetImage("m")
	assert.NoError(t, err)
}
