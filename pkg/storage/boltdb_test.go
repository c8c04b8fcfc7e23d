package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/errdefs"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testMachine(hostname, mac string) *types.Machine {
	now := time.Now()
	return &types.Machine{
		ID:           uuid.New().String(),
		MACAddress:   mac,
		Hostname:     hostname,
		BootMode:     types.BootModeUEFI,
		FirmwareArch: types.FirmwareArchX64UEFI,
		Status:       types.MachineStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func testImage(name string, status types.ImageStatus) *types.Image {
	now := time.Now()
	return &types.Image{
		ID:        uuid.New().String(),
		Name:      name,
		Format:    types.ImageFormatRAW,
		ImageType: types.ImageTypeSystem,
		Status:    status,
		CreatedBy: "tester",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestImageCRUDAndNameUniqueness(t *testing.T) {
	s := newTestStore(t)

	img := testImage("win11", types.ImageStatusReady)
	require.NoError(t, s.CreateImage(img))

	got, err := s.GetImage(img.ID)
	require.NoError(t, err)
	assert.Equal(t, "win11", got.Name)

	byName, err := s.GetImageByName("win11")
	require.NoError(t, err)
	assert.Equal(t, img.ID, byName.ID)

	// Same name while the first is non-archived conflicts.
	dup := testImage("win11", types.ImageStatusUploading)
	err = s.CreateImage(dup)
	assert.True(t, errdefs.IsConflict(err))

	// Archiving releases the name.
	got.Status = types.ImageStatusArchived
	require.NoError(t, s.UpdateImage(got))
	require.NoError(t, s.CreateImage(dup))
}

func TestGetImageNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetImage("no-such-id")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestMachineUniqueness(t *testing.T) {
	s := newTestStore(t)

	m1 := testMachine("m1", "aa:bb:cc:dd:ee:ff")
	require.NoError(t, s.CreateMachine(m1))

	sameMAC := testMachine("m2", "aa:bb:cc:dd:ee:ff")
	assert.True(t, errdefs.IsConflict(s.CreateMachine(sameMAC)))

	sameHostname := testMachine("m1", "11:22:33:44:55:66")
	assert.True(t, errdefs.IsConflict(s.CreateMachine(sameHostname)))

	byMAC, err := s.GetMachineByMAC("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.Equal(t, m1.ID, byMAC.ID)
}

func TestSessionClaimStatus(t *testing.T) {
	s := newTestStore(t)

	m := testMachine("m1", "aa:bb:cc:dd:ee:ff")
	require.NoError(t, s.CreateMachine(m))

	sess := &types.Session{
		ID:          uuid.New().String(),
		MachineID:   m.ID,
		ImageID:     "img-1",
		SessionType: types.SessionTypeDisklessBoot,
		Status:      types.SessionStatusRequested,
		StartedAt:   time.Now(),
	}
	require.NoError(t, s.CreateSession(sess))

	// Winning claim.
	claimed, err := s.ClaimSessionStatus(sess.ID, types.SessionStatusRequested, types.SessionStatusProvisioning)
	require.NoError(t, err)
	assert.Equal(t, types.SessionStatusProvisioning, claimed.Status)

	// Losing claim: row is no longer REQUESTED.
	_, err = s.ClaimSessionStatus(sess.ID, types.SessionStatusRequested, types.SessionStatusProvisioning)
	assert.True(t, errdefs.IsConflict(err))

	// Claim on a missing row.
	_, err = s.ClaimSessionStatus("missing", types.SessionStatusRequested, types.SessionStatusProvisioning)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestOneNonTerminalSessionPerMachine(t *testing.T) {
	s := newTestStore(t)

	m := testMachine("m1", "aa:bb:cc:dd:ee:ff")
	require.NoError(t, s.CreateMachine(m))

	first := &types.Session{
		ID:        uuid.New().String(),
		MachineID: m.ID,
		ImageID:   "img-1",
		Status:    types.SessionStatusActive,
		StartedAt: time.Now(),
	}
	require.NoError(t, s.CreateSession(first))

	second := &types.Session{
		ID:        uuid.New().String(),
		MachineID: m.ID,
		ImageID:   "img-1",
		Status:    types.SessionStatusRequested,
		StartedAt: time.Now(),
	}
	assert.True(t, errdefs.IsConflict(s.CreateSession(second)))

	// Terminating the first frees the machine.
	first.Status = types.SessionStatusStopped
	require.NoError(t, s.UpdateSession(first))
	require.NoError(t, s.CreateSession(second))

	active, err := s.ActiveSessionForMachine(m.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)
}

func TestLiveTargetConstraints(t *testing.T) {
	s := newTestStore(t)

	mk := func(machineID, iqn string, status types.TargetStatus) *types.Target {
		return &types.Target{
			ID:        uuid.New().String(),
			IQN:       iqn,
			MachineID: machineID,
			ImageID:   "img-1",
			Status:    status,
			CreatedAt: time.Now(),
		}
	}

	require.NoError(t, s.CreateTarget(mk("m-1", "iqn.2025.ggnet:target-m1", types.TargetStatusActive)))

	// Second live target for the same machine conflicts.
	err := s.CreateTarget(mk("m-1", "iqn.2025.ggnet:target-m1b", types.TargetStatusCreating))
	assert.True(t, errdefs.IsConflict(err))

	// Reusing a live IQN conflicts.
	err = s.CreateTarget(mk("m-2", "iqn.2025.ggnet:target-m1", types.TargetStatusCreating))
	assert.True(t, errdefs.IsConflict(err))

	// Stopped rows do not block new targets.
	stopped := mk("m-3", "iqn.2025.ggnet:target-m3", types.TargetStatusStopped)
	require.NoError(t, s.CreateTarget(stopped))
	require.NoError(t, s.CreateTarget(mk("m-3", "iqn.2025.ggnet:target-m3", types.TargetStatusCreating)))

	live, err := s.LiveTargetForMachine("m-3")
	require.NoError(t, err)
	assert.Equal(t, types.TargetStatusCreating, live.Status)

	_, err = s.LiveTargetForMachine("m-1-missing")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestLiveTargetsForImage(t *testing.T) {
	s := newTestStore(t)

	active := &types.Target{ID: "t1", IQN: "iqn.a", MachineID: "m1", ImageID: "img-1", Status: types.TargetStatusActive}
	stopped := &types.Target{ID: "t2", IQN: "iqn.b", MachineID: "m2", ImageID: "img-1", Status: types.TargetStatusStopped}
	other := &types.Target{ID: "t3", IQN: "iqn.c", MachineID: "m3", ImageID: "img-2", Status: types.TargetStatusActive}
	for _, target := range []*types.Target{active, stopped, other} {
		require.NoError(t, s.CreateTarget(target))
	}

	live, err := s.LiveTargetsForImage("img-1")
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "t1", live[0].ID)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)

	img := testImage("win11", types.ImageStatusReady)
	boom := assert.AnError

	err := s.WithTx(func(tx *Tx) error {
		if err := tx.CreateImage(img); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetImage(img.ID)
	assert.True(t, errdefs.IsNotFound(err), "row must not survive a failed transaction")
}

func TestConvertJobQueue(t *testing.T) {
	s := newTestStore(t)

	job := &types.ConvertJob{
		ImageID:      "img-1",
		SourcePath:   "/staging/a.vhdx",
		SourceFormat: types.ImageFormatVHDX,
		DestPath:     "/images/img-1.raw",
		CreatedAt:    time.Now(),
	}
	require.NoError(t, s.EnqueueConvertJob(job))

	pending, err := s.ListConvertJobsByStatus(types.ConvertJobPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// Re-enqueueing a pending job is a no-op.
	require.NoError(t, s.EnqueueConvertJob(job))
	pending, err = s.ListConvertJobsByStatus(types.ConvertJobPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	// Worker takes the job; attempts increments.
	claimed, err := s.ClaimConvertJob("img-1", types.ConvertJobPending, types.ConvertJobRunning)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed.Attempts)

	// Second worker loses the claim.
	_, err = s.ClaimConvertJob("img-1", types.ConvertJobPending, types.ConvertJobRunning)
	assert.True(t, errdefs.IsConflict(err))

	// Done jobs stay done across re-enqueue.
	claimed.Status = types.ConvertJobDone
	require.NoError(t, s.UpdateConvertJob(claimed))
	require.NoError(t, s.EnqueueConvertJob(job))
	got, err := s.GetConvertJob("img-1")
	require.NoError(t, err)
	assert.Equal(t, types.ConvertJobDone, got.Status)

	// Failed jobs revive to pending.
	got.Status = types.ConvertJobFailed
	got.Error = "qemu-img exited 1"
	require.NoError(t, s.UpdateConvertJob(got))
	require.NoError(t, s.EnqueueConvertJob(job))
	got, err = s.GetConvertJob("img-1")
	require.NoError(t, err)
	assert.Equal(t, types.ConvertJobPending, got.Status)
	assert.Empty(t, got.Error)
	assert.Equal(t, 1, got.Attempts, "attempts survive revival")
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)

	u := &types.User{
		ID:        uuid.New().String(),
		Username:  "admin",
		Role:      types.UserRoleAdmin,
		Token:     "secret-token",
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.CreateUser(u))
	assert.True(t, errdefs.IsConflict(s.CreateUser(&types.User{ID: "x", Username: "admin"})))

	byToken, err := s.GetUserByToken("secret-token")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byToken.ID)

	_, err = s.GetUserByToken("wrong")
	assert.True(t, errdefs.IsNotFound(err))

	require.NoError(t, s.DeleteUser(u.ID))
	_, err = s.GetUser(u.ID)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestNonTerminalSessions(t *testing.T) {
	s := newTestStore(t)

	mk := func(machineID string, status types.SessionStatus) {
		require.NoError(t, s.CreateSession(&types.Session{
			ID:        uuid.New().String(),
			MachineID: machineID,
			ImageID:   "img",
			Status:    status,
			StartedAt: time.Now(),
		}))
	}
	mk("m1", types.SessionStatusActive)
	mk("m2", types.SessionStatusProvisioning)
	mk("m3", types.SessionStatusStopped)
	mk("m4", types.SessionStatusFailed)

	open, err := s.NonTerminalSessions()
	require.NoError(t, err)
	assert.Len(t, open, 2)
}

func TestMigrateFreshAndRepeat(t *testing.T) {
	dir := t.TempDir()

	db, err := bolt.Open(filepath.Join(dir, "ggnet.db"), 0600, nil)
	require.NoError(t, err)

	from, to, err := Migrate(db)
	require.NoError(t, err)
	assert.Equal(t, 0, from)
	assert.Equal(t, SchemaVersion, to)

	// Second run is a no-op from the current version.
	from, to, err = Migrate(db)
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, from)
	assert.Equal(t, SchemaVersion, to)
	require.NoError(t, db.Close())

	// The migrated database opens as a store.
	s, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreateImage(testImage("post-migration", types.ImageStatusReady)))
}
