package storage

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/mistborn/internal/allomancy"
)

func sampleRecord() allomancy.Record {
	st := allomancy.NewEmptyState()
	st.GrantPower(allomancy.Pewter)
	st.GrantPower(allomancy.Steel)
	st.SetReserve(allomancy.Pewter, 3.5)
	st.SetIntensity(allomancy.Pewter, 2)
	st.SetToggle(allomancy.Pewter, true)
	st.SetSelected(allomancy.Steel)
	st.SetFatigue(1.25)
	return st.Record()
}

func setupBadgerRepo(t *testing.T) (*BadgerStateRepo, string) {
	tempDir, err := os.MkdirTemp("", "allomancy-storage-test")
	if err != nil {
		t.Fatalf("Не удалось создать временную директорию: %v", err)
	}

	repo, err := NewBadgerStateRepo(tempDir)
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("Не удалось создать хранилище: %v", err)
	}
	return repo, tempDir
}

func cleanupBadgerRepo(repo *BadgerStateRepo, tempDir string) {
	if repo != nil {
		repo.Close()
	}
	if tempDir != "" {
		os.RemoveAll(tempDir)
	}
}

// exerciseRepo общий сценарий для всех реализаций StateRepo
func exerciseRepo(t *testing.T, repo StateRepo) {
	ctx := context.Background()

	t.Run("Save and Load", func(t *testing.T) {
		want := sampleRecord()
		require.NoError(t, repo.Save(ctx, 42, want))

		got, found, err := repo.Load(ctx, 42)
		require.NoError(t, err)
		require.True(t, found, "Запись не найдена")
		assert.Equal(t, want, got)

		st := allomancy.StateFromRecord(got)
		assert.True(t, st.Power(allomancy.Pewter))
		assert.Equal(t, 2, st.EffectiveLevel(allomancy.Pewter))
		sel, ok := st.Selected()
		assert.True(t, ok)
		assert.Equal(t, allomancy.Steel, sel)
	})

	t.Run("Load Missing Owner", func(t *testing.T) {
		_, found, err := repo.Load(ctx, 999)
		require.NoError(t, err)
		assert.False(t, found, "Запись найдена для неизвестного владельца")
	})

	t.Run("Invalid Owner", func(t *testing.T) {
		err := repo.Save(ctx, 0, sampleRecord())
		assert.ErrorIs(t, err, ErrInvalidOwner)
	})

	t.Run("BatchSave", func(t *testing.T) {
		batch := map[uint64]allomancy.Record{
			100: sampleRecord(),
			101: allomancy.NewEmptyState().Record(),
		}
		require.NoError(t, repo.BatchSave(ctx, batch))

		for id := range batch {
			_, found, err := repo.Load(ctx, id)
			require.NoError(t, err)
			assert.True(t, found, "Запись %d не сохранена пачкой", id)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Save(ctx, 7, sampleRecord()))
		require.NoError(t, repo.Delete(ctx, 7))

		_, found, err := repo.Load(ctx, 7)
		require.NoError(t, err)
		assert.False(t, found)

		assert.Error(t, repo.Delete(ctx, 7), "Повторное удаление должно вернуть ошибку")
	})
}

func TestMemoryStateRepo(t *testing.T) {
	repo := NewMemoryStateRepo()
	exerciseRepo(t, repo)
}

func TestBadgerStateRepo(t *testing.T) {
	repo, tempDir := setupBadgerRepo(t)
	defer cleanupBadgerRepo(repo, tempDir)

	exerciseRepo(t, repo)
}

func TestBadgerStateRepoReopen(t *testing.T) {
	repo, tempDir := setupBadgerRepo(t)
	defer os.RemoveAll(tempDir)

	ctx := context.Background()
	want := sampleRecord()
	require.NoError(t, repo.Save(ctx, 5, want))
	require.NoError(t, repo.Close())

	_, _, err := repo.Load(ctx, 5)
	assert.Error(t, err, "Закрытое хранилище должно отклонять операции")

	reopened, err := NewBadgerStateRepo(tempDir)
	require.NoError(t, err)
	defer reopened.Close()

	got, found, err := reopened.Load(ctx, 5)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want, got)
}

func TestMemoryStateRepoIsolatesCopies(t *testing.T) {
	repo := NewMemoryStateRepo()
	ctx := context.Background()

	rec := sampleRecord()
	require.NoError(t, repo.Save(ctx, 1, rec))
	rec.Reserves["pewter"] = 100

	got, _, err := repo.Load(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3.5, got.Reserves["pewter"], "Хранилище не должно разделять карты с вызывающим")
}

func TestMemoryStateRepoCancelledContext(t *testing.T) {
	repo := NewMemoryStateRepo()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, repo.Save(ctx, 1, sampleRecord()), context.Canceled)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open("cassandra", "", "")
	assert.Error(t, err)

	repo, err := Open("memory", "", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStateRepo{}, repo)
}
