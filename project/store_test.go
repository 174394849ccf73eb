package project

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testProject(id string) *Project {
	return &Project{
		ID:                id,
		Title:             "site redesign",
		ClientAddress:     "rrrrrrrrrrrrrrrrrrrrBZbvji",
		FreelancerAddress: "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh",
		Status:            StatusPending,
		CreatedAt:         time.Now().UTC().Truncate(time.Second),
		Milestones: []*Milestone{
			{Name: "wireframes", Amount: "100.00", Deadline: time.Now().Add(24 * time.Hour).UTC(), Status: MilestonePending, Escrow: EscrowRef{OwnerSequence: 7, CreateTxHash: "AA"}},
			{Name: "launch", Amount: "250.00", Deadline: time.Now().Add(48 * time.Hour).UTC(), Status: MilestonePending, Escrow: EscrowRef{OwnerSequence: 8, CreateTxHash: "BB"}},
		},
	}
}

func runStoreSuite(t *testing.T, name string, open func(t *testing.T) Store) {
	t.Run(name+"/create_get", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		p := testProject("p-1")
		require.NoError(t, store.Create(ctx, p))
		require.ErrorIs(t, store.Create(ctx, p), ErrExists)

		loaded, err := store.Get(ctx, "p-1")
		require.NoError(t, err)
		require.Equal(t, p.Title, loaded.Title)
		require.Len(t, loaded.Milestones, 2)
		require.Equal(t, uint32(8), loaded.Milestones[1].Escrow.OwnerSequence)

		_, err = store.Get(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run(name+"/update", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		require.NoError(t, store.Create(ctx, testProject("p-2")))

		updated, err := store.Update(ctx, "p-2", func(p *Project) error {
			p.Milestones[0].Status = MilestoneSubmitted
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, MilestoneSubmitted, updated.Milestones[0].Status)

		loaded, err := store.Get(ctx, "p-2")
		require.NoError(t, err)
		require.Equal(t, MilestoneSubmitted, loaded.Milestones[0].Status)
	})

	t.Run(name+"/update_aborts_on_error", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		require.NoError(t, store.Create(ctx, testProject("p-3")))

		_, err := store.Update(ctx, "p-3", func(p *Project) error {
			p.Milestones[0].Status = MilestoneReleased
			return errors.New("abort")
		})
		require.Error(t, err)

		loaded, err := store.Get(ctx, "p-3")
		require.NoError(t, err)
		require.Equal(t, MilestonePending, loaded.Milestones[0].Status)
	})

	t.Run(name+"/concurrent_updates_serialize", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		p := testProject("p-4")
		p.Milestones[0].Amount = "0.00"
		require.NoError(t, store.Create(ctx, p))

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Update(ctx, "p-4", func(p *Project) error {
					var cents int
					fmt.Sscanf(p.Milestones[0].Amount, "%d.00", &cents)
					p.Milestones[0].Amount = fmt.Sprintf("%d.00", cents+1)
					return nil
				})
				require.NoError(t, err)
			}()
		}
		wg.Wait()

		loaded, err := store.Get(ctx, "p-4")
		require.NoError(t, err)
		require.Equal(t, "20.00", loaded.Milestones[0].Amount)
	})

	t.Run(name+"/list", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()
		first := testProject("p-5")
		second := testProject("p-6")
		second.CreatedAt = first.CreatedAt.Add(time.Second)
		require.NoError(t, store.Create(ctx, first))
		require.NoError(t, store.Create(ctx, second))

		all, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		require.Equal(t, "p-5", all[0].ID)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, "memory", func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, "sqlite", func(t *testing.T) Store {
		store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "projects.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestCloneIsDeep(t *testing.T) {
	p := testProject("p-7")
	clone := p.Clone()
	clone.Milestones[0].Status = MilestoneReleased
	sub := &Submission{Description: "done", SubmittedAt: time.Now()}
	clone.Milestones[1].Submission = sub
	require.Equal(t, MilestonePending, p.Milestones[0].Status)
	require.Nil(t, p.Milestones[1].Submission)
}
