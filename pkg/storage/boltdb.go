package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/errdefs"
	"github.com/itcaffenet-Ljubinje/GGnet-sub001/pkg/types"
)

var (
	// Bucket names
	bucketImages      = []byte("images")
	bucketMachines    = []byte("machines")
	bucketTargets     = []byte("targets")
	bucketSessions    = []byte("sessions")
	bucketUsers       = []byte("users")
	bucketConvertJobs = []byte("convert_jobs")
	bucketMeta        = []byte("meta")
)

// DBFileName is the database file under the data directory.
const DBFileName = "ggnet.db"

// BoltStore implements Store using BoltDB. BoltDB admits a single writer
// at a time, so every Update is serializable by construction; that is the
// transactional guarantee WithTx and the Claim* operations lean on.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database under dataDir and brings
// the schema up to date.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, DBFileName)

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, _, err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside one writable transaction; fn returning an error
// rolls back every change made through the Tx.
func (s *BoltStore) WithTx(fn func(tx *Tx) error) error {
	return s.db.Update(func(btx *bolt.Tx) error {
		return fn(&Tx{btx: btx})
	})
}

func (s *BoltStore) view(fn func(tx *Tx) error) error {
	return s.db.View(func(btx *bolt.Tx) error {
		return fn(&Tx{btx: btx})
	})
}

// Tx exposes typed entity access inside one storage transaction. All
// methods see each other's writes and commit or roll back together.
type Tx struct {
	btx *bolt.Tx
}

func (t *Tx) get(bucket []byte, key, what string, v any) error {
	data := t.btx.Bucket(bucket).Get([]byte(key))
	if data == nil {
		return errors.Wrapf(errdefs.ErrNotFound, "%s %s", what, key)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s %s: %w", what, key, err)
	}
	return nil
}

func (t *Tx) put(bucket []byte, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.btx.Bucket(bucket).Put([]byte(key), data)
}

func (t *Tx) forEach(bucket []byte, fn func(v []byte) error) error {
	return t.btx.Bucket(bucket).ForEach(func(_, v []byte) error {
		return fn(v)
	})
}

// --- Images ---

// CreateImage inserts a new image row. Names are unique among
// non-ARCHIVED images.
func (t *Tx) CreateImage(img *types.Image) error {
	err := t.forEach(bucketImages, func(v []byte) error {
		var existing types.Image
		if err := json.Unmarshal(v, &existing); err != nil {
			return err
		}
		if existing.Name == img.Name && existing.Status != types.ImageStatusArchived {
			return errors.Wrapf(errdefs.ErrConflict, "image name %q in use by %s", img.Name, existing.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return t.put(bucketImages, img.ID, img)
}

func (t *Tx) GetImage(id string) (*types.Image, error) {
	var img types.Image
	if err := t.get(bucketImages, id, "image", &img); err != nil {
		return nil, err
	}
	return &img, nil
}

func (t *Tx) PutImage(img *types.Image) error {
	img.UpdatedAt = time.Now()
	return t.put(bucketImages, img.ID, img)
}

// ClaimImageStatus performs the compare-and-set transition for images.
func (t *Tx) ClaimImageStatus(id string, from, to types.ImageStatus) (*types.Image, error) {
	img, err := t.GetImage(id)
	if err != nil {
		return nil, err
	}
	if img.Status != from {
		return nil, errors.Wrapf(errdefs.ErrConflict, "image %s: status is %s, want %s", id, img.Status, from)
	}
	img.Status = to
	if err := t.PutImage(img); err != nil {
		return nil, err
	}
	return img, nil
}

// --- Machines ---

// CreateMachine inserts a new machine row. MAC and hostname are unique.
func (t *Tx) CreateMachine(m *types.Machine) error {
	err := t.forEach(bucketMachines, func(v []byte) error {
		var existing types.Machine
		if err := json.Unmarshal(v, &existing); err != nil {
			return err
		}
		if existing.MACAddress == m.MACAddress {
			return errors.Wrapf(errdefs.ErrConflict, "MAC %s in use by machine %s", m.MACAddress, existing.ID)
		}
		if existing.Hostname == m.Hostname {
			return errors.Wrapf(errdefs.ErrConflict, "hostname %q in use by machine %s", m.Hostname, existing.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return t.put(bucketMachines, m.ID, m)
}

func (t *Tx) GetMachine(id string) (*types.Machine, error) {
	var m types.Machine
	if err := t.get(bucketMachines, id, "machine", &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (t *Tx) PutMachine(m *types.Machine) error {
	m.UpdatedAt = time.Now()
	return t.put(bucketMachines, m.ID, m)
}

// --- Targets ---

// CreateTarget inserts a new target row. At most one live target may
// exist per machine, and live IQNs are unique.
func (t *Tx) CreateTarget(target *types.Target) error {
	err := t.forEach(bucketTargets, func(v []byte) error {
		var existing types.Target
		if err := json.Unmarshal(v, &existing); err != nil {
			return err
		}
		if !existing.Status.Live() {
			return nil
		}
		if existing.MachineID == target.MachineID {
			return errors.Wrapf(errdefs.ErrConflict, "machine %s already has live target %s", target.MachineID, existing.ID)
		}
		if existing.IQN == target.IQN {
			return errors.Wrapf(errdefs.ErrConflict, "IQN %s in use by target %s", target.IQN, existing.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return t.put(bucketTargets, target.ID, target)
}

func (t *Tx) GetTarget(id string) (*types.Target, error) {
	var target types.Target
	if err := t.get(bucketTargets, id, "target", &target); err != nil {
		return nil, err
	}
	return &target, nil
}

func (t *Tx) PutTarget(target *types.Target) error {
	target.UpdatedAt = time.Now()
	return t.put(bucketTargets, target.ID, target)
}

// LiveTargetForMachine returns the machine's CREATING/ACTIVE/STOPPING
// target, or NotFound.
func (t *Tx) LiveTargetForMachine(machineID string) (*types.Target, error) {
	var found *types.Target
	err := t.forEach(bucketTargets, func(v []byte) error {
		var target types.Target
		if err := json.Unmarshal(v, &target); err != nil {
			return err
		}
		if target.MachineID == machineID && target.Status.Live() {
			found = &target
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errors.Wrapf(errdefs.ErrNotFound, "no live target for machine %s", machineID)
	}
	return found, nil
}

// LiveTargetsForImage lists targets in a live status backed by the image.
func (t *Tx) LiveTargetsForImage(imageID string) ([]*types.Target, error) {
	var live []*types.Target
	err := t.forEach(bucketTargets, func(v []byte) error {
		var target types.Target
		if err := json.Unmarshal(v, &target); err != nil {
			return err
		}
		if target.ImageID == imageID && target.Status.Live() {
			tc := target
			live = append(live, &tc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return live, nil
}

// ClaimTargetStatus performs the compare-and-set transition for targets.
func (t *Tx) ClaimTargetStatus(id string, from, to types.TargetStatus) (*types.Target, error) {
	target, err := t.GetTarget(id)
	if err != nil {
		return nil, err
	}
	if target.Status != from {
		return nil, errors.Wrapf(errdefs.ErrConflict, "target %s: status is %s, want %s", id, target.Status, from)
	}
	target.Status = to
	if err := t.PutTarget(target); err != nil {
		return nil, err
	}
	return target, nil
}

// --- Sessions ---

// CreateSession inserts a new session row. At most one non-terminal
// session may exist per machine; this check and the insert share one
// transaction, which is what serializes concurrent starts.
func (t *Tx) CreateSession(s *types.Session) error {
	err := t.forEach(bucketSessions, func(v []byte) error {
		var existing types.Session
		if err := json.Unmarshal(v, &existing); err != nil {
			return err
		}
		if existing.MachineID == s.MachineID && !existing.Status.Terminal() {
			return errors.Wrapf(errdefs.ErrConflict, "machine %s already has session %s in %s", s.MachineID, existing.ID, existing.Status)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return t.put(bucketSessions, s.ID, s)
}

func (t *Tx) GetSession(id string) (*types.Session, error) {
	var s types.Session
	if err := t.get(bucketSessions, id, "session", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *Tx) PutSession(s *types.Session) error {
	return t.put(bucketSessions, s.ID, s)
}

// ClaimSessionStatus performs the compare-and-set transition that
// linearises the session state machine.
func (t *Tx) ClaimSessionStatus(id string, from, to types.SessionStatus) (*types.Session, error) {
	s, err := t.GetSession(id)
	if err != nil {
		return nil, err
	}
	if s.Status != from {
		return nil, errors.Wrapf(errdefs.ErrConflict, "session %s: status is %s, want %s", id, s.Status, from)
	}
	s.Status = to
	if err := t.PutSession(s); err != nil {
		return nil, err
	}
	return s, nil
}

// ActiveSessionForMachine returns the machine's non-terminal session, or
// NotFound.
func (t *Tx) ActiveSessionForMachine(machineID string) (*types.Session, error) {
	var found *types.Session
	err := t.forEach(bucketSessions, func(v []byte) error {
		var s types.Session
		if err := json.Unmarshal(v, &s); err != nil {
			return err
		}
		if s.MachineID == machineID && !s.Status.Terminal() {
			found = &s
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errors.Wrapf(errdefs.ErrNotFound, "no active session for machine %s", machineID)
	}
	return found, nil
}

// --- Conversion queue ---

// EnqueueConvertJob inserts or revives the conversion job for an image.
// Jobs are idempotent by image id: an existing PENDING, RUNNING or DONE
// job makes this a no-op; a FAILED job is reset to PENDING.
func (t *Tx) EnqueueConvertJob(job *types.ConvertJob) error {
	var existing types.ConvertJob
	err := t.get(bucketConvertJobs, job.ImageID, "convert job", &existing)
	switch {
	case errdefs.IsNotFound(err):
		job.Status = types.ConvertJobPending
		return t.put(bucketConvertJobs, job.ImageID, job)
	case err != nil:
		return err
	}

	switch existing.Status {
	case types.ConvertJobFailed:
		existing.Status = types.ConvertJobPending
		existing.Error = ""
		existing.UpdatedAt = time.Now()
		return t.put(bucketConvertJobs, existing.ImageID, &existing)
	default:
		return nil
	}
}

func (t *Tx) GetConvertJob(imageID string) (*types.ConvertJob, error) {
	var job types.ConvertJob
	if err := t.get(bucketConvertJobs, imageID, "convert job", &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (t *Tx) PutConvertJob(job *types.ConvertJob) error {
	job.UpdatedAt = time.Now()
	return t.put(bucketConvertJobs, job.ImageID, job)
}

// ClaimConvertJob performs the compare-and-set transition workers use to
// take ownership of a job.
func (t *Tx) ClaimConvertJob(imageID string, from, to types.ConvertJobStatus) (*types.ConvertJob, error) {
	job, err := t.GetConvertJob(imageID)
	if err != nil {
		return nil, err
	}
	if job.Status != from {
		return nil, errors.Wrapf(errdefs.ErrConflict, "convert job %s: status is %s, want %s", imageID, job.Status, from)
	}
	job.Status = to
	if to == types.ConvertJobRunning {
		job.Attempts++
	}
	if err := t.PutConvertJob(job); err != nil {
		return nil, err
	}
	return job, nil
}

// --- Store methods (one transaction each) ---

func (s *BoltStore) CreateImage(img *types.Image) error {
	return s.WithTx(func(tx *Tx) error { return tx.CreateImage(img) })
}

func (s *BoltStore) GetImage(id string) (*types.Image, error) {
	var img *types.Image
	err := s.view(func(tx *Tx) error {
		var err error
		img, err = tx.GetImage(id)
		return err
	})
	return img, err
}

func (s *BoltStore) GetImageByName(name string) (*types.Image, error) {
	var found *types.Image
	err := s.view(func(tx *Tx) error {
		return tx.forEach(bucketImages, func(v []byte) error {
			var img types.Image
			if err := json.Unmarshal(v, &img); err != nil {
				return err
			}
			if img.Name == name && img.Status != types.ImageStatusArchived {
				found = &img
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errors.Wrapf(errdefs.ErrNotFound, "image %q", name)
	}
	return found, nil
}

func (s *BoltStore) ListImages() ([]*types.Image, error) {
	var images []*types.Image
	err := s.view(func(tx *Tx) error {
		return tx.forEach(bucketImages, func(v []byte) error {
			var img types.Image
			if err := json.Unmarshal(v, &img); err != nil {
				return err
			}
			images = append(images, &img)
			return nil
		})
	})
	return images, err
}

func (s *BoltStore) ListImagesByStatus(status types.ImageStatus) ([]*types.Image, error) {
	images, err := s.ListImages()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Image
	for _, img := range images {
		if img.Status == status {
			filtered = append(filtered, img)
		}
	}
	return filtered, nil
}

func (s *BoltStore) UpdateImage(img *types.Image) error {
	return s.WithTx(func(tx *Tx) error { return tx.PutImage(img) })
}

func (s *BoltStore) ClaimImageStatus(id string, from, to types.ImageStatus) (*types.Image, error) {
	var img *types.Image
	err := s.WithTx(func(tx *Tx) error {
		var err error
		img, err = tx.ClaimImageStatus(id, from, to)
		return err
	})
	return img, err
}

func (s *BoltStore) CreateMachine(m *types.Machine) error {
	return s.WithTx(func(tx *Tx) error { return tx.CreateMachine(m) })
}

func (s *BoltStore) GetMachine(id string) (*types.Machine, error) {
	var m *types.Machine
	err := s.view(func(tx *Tx) error {
		var err error
		m, err = tx.GetMachine(id)
		return err
	})
	return m, err
}

func (s *BoltStore) GetMachineByMAC(mac string) (*types.Machine, error) {
	var found *types.Machine
	err := s.view(func(tx *Tx) error {
		return tx.forEach(bucketMachines, func(v []byte) error {
			var m types.Machine
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if m.MACAddress == mac {
				found = &m
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errors.Wrapf(errdefs.ErrNotFound, "machine with MAC %s", mac)
	}
	return found, nil
}

func (s *BoltStore) ListMachines() ([]*types.Machine, error) {
	var machines []*types.Machine
	err := s.view(func(tx *Tx) error {
		return tx.forEach(bucketMachines, func(v []byte) error {
			var m types.Machine
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			machines = append(machines, &m)
			return nil
		})
	})
	return machines, err
}

func (s *BoltStore) UpdateMachine(m *types.Machine) error {
	return s.WithTx(func(tx *Tx) error { return tx.PutMachine(m) })
}

func (s *BoltStore) DeleteMachine(id string) error {
	return s.db.Update(func(btx *bolt.Tx) error {
		return btx.Bucket(bucketMachines).Delete([]byte(id))
	})
}

func (s *BoltStore) CreateTarget(t *types.Target) error {
	return s.WithTx(func(tx *Tx) error { return tx.CreateTarget(t) })
}

func (s *BoltStore) GetTarget(id string) (*types.Target, error) {
	var t *types.Target
	err := s.view(func(tx *Tx) error {
		var err error
		t, err = tx.GetTarget(id)
		return err
	})
	return t, err
}

func (s *BoltStore) ListTargets() ([]*types.Target, error) {
	var targets []*types.Target
	err := s.view(func(tx *Tx) error {
		return tx.forEach(bucketTargets, func(v []byte) error {
			var t types.Target
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			targets = append(targets, &t)
			return nil
		})
	})
	return targets, err
}

func (s *BoltStore) LiveTargetForMachine(machineID string) (*types.Target, error) {
	var t *types.Target
	err := s.view(func(tx *Tx) error {
		var err error
		t, err = tx.LiveTargetForMachine(machineID)
		return err
	})
	return t, err
}

func (s *BoltStore) LiveTargetsForImage(imageID string) ([]*types.Target, error) {
	var live []*types.Target
	err := s.view(func(tx *Tx) error {
		var err error
		live, err = tx.LiveTargetsForImage(imageID)
		return err
	})
	return live, err
}

func (s *BoltStore) UpdateTarget(t *types.Target) error {
	return s.WithTx(func(tx *Tx) error { return tx.PutTarget(t) })
}

func (s *BoltStore) ClaimTargetStatus(id string, from, to types.TargetStatus) (*types.Target, error) {
	var t *types.Target
	err := s.WithTx(func(tx *Tx) error {
		var err error
		t, err = tx.ClaimTargetStatus(id, from, to)
		return err
	})
	return t, err
}

func (s *BoltStore) CreateSession(sess *types.Session) error {
	return s.WithTx(func(tx *Tx) error { return tx.CreateSession(sess) })
}

func (s *BoltStore) GetSession(id string) (*types.Session, error) {
	var sess *types.Session
	err := s.view(func(tx *Tx) error {
		var err error
		sess, err = tx.GetSession(id)
		return err
	})
	return sess, err
}

func (s *BoltStore) ListSessions() ([]*types.Session, error) {
	var sessions []*types.Session
	err := s.view(func(tx *Tx) error {
		return tx.forEach(bucketSessions, func(v []byte) error {
			var sess types.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}
			sessions = append(sessions, &sess)
			return nil
		})
	})
	return sessions, err
}

func (s *BoltStore) ListSessionsByMachine(machineID string) ([]*types.Session, error) {
	sessions, err := s.ListSessions()
	if err != nil {
		return nil, err
	}
	var filtered []*types.Session
	for _, sess := range sessions {
		if sess.MachineID == machineID {
			filtered = append(filtered, sess)
		}
	}
	return filtered, nil
}

func (s *BoltStore) NonTerminalSessions() ([]*types.Session, error) {
	sessions, err := s.ListSessions()
	if err != nil {
		return nil, err
	}
	var open []*types.Session
	for _, sess := range sessions {
		if !sess.Status.Terminal() {
			open = append(open, sess)
		}
	}
	return open, nil
}

func (s *BoltStore) ActiveSessionForMachine(machineID string) (*types.Session, error) {
	var sess *types.Session
	err := s.view(func(tx *Tx) error {
		var err error
		sess, err = tx.ActiveSessionForMachine(machineID)
		return err
	})
	return sess, err
}

func (s *BoltStore) UpdateSession(sess *types.Session) error {
	return s.WithTx(func(tx *Tx) error { return tx.PutSession(sess) })
}

func (s *BoltStore) ClaimSessionStatus(id string, from, to types.SessionStatus) (*types.Session, error) {
	var sess *types.Session
	err := s.WithTx(func(tx *Tx) error {
		var err error
		sess, err = tx.ClaimSessionStatus(id, from, to)
		return err
	})
	return sess, err
}

// --- Users ---

func (s *BoltStore) CreateUser(u *types.User) error {
	return s.WithTx(func(tx *Tx) error {
		err := tx.forEach(bucketUsers, func(v []byte) error {
			var existing types.User
			if err := json.Unmarshal(v, &existing); err != nil {
				return err
			}
			if existing.Username == u.Username {
				return errors.Wrapf(errdefs.ErrConflict, "username %q in use", u.Username)
			}
			return nil
		})
		if err != nil {
			return err
		}
		return tx.put(bucketUsers, u.ID, u)
	})
}

func (s *BoltStore) GetUser(id string) (*types.User, error) {
	var u types.User
	err := s.view(func(tx *Tx) error {
		return tx.get(bucketUsers, id, "user", &u)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *BoltStore) GetUserByToken(token string) (*types.User, error) {
	return s.findUser(func(u *types.User) bool { return u.Token == token })
}

func (s *BoltStore) GetUserByUsername(username string) (*types.User, error) {
	return s.findUser(func(u *types.User) bool { return u.Username == username })
}

func (s *BoltStore) findUser(match func(*types.User) bool) (*types.User, error) {
	var found *types.User
	err := s.view(func(tx *Tx) error {
		return tx.forEach(bucketUsers, func(v []byte) error {
			var u types.User
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			if match(&u) {
				found = &u
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, errors.Wrap(errdefs.ErrNotFound, "user")
	}
	return found, nil
}

func (s *BoltStore) ListUsers() ([]*types.User, error) {
	var users []*types.User
	err := s.view(func(tx *Tx) error {
		return tx.forEach(bucketUsers, func(v []byte) error {
			var u types.User
			if err := json.Unmarshal(v, &u); err != nil {
				return err
			}
			users = append(users, &u)
			return nil
		})
	})
	return users, err
}

func (s *BoltStore) DeleteUser(id string) error {
	return s.db.Update(func(btx *bolt.Tx) error {
		return btx.Bucket(bucketUsers).Delete([]byte(id))
	})
}

// --- Conversion queue (store-level) ---

func (s *BoltStore) EnqueueConvertJob(job *types.ConvertJob) error {
	return s.WithTx(func(tx *Tx) error { return tx.EnqueueConvertJob(job) })
}

func (s *BoltStore) GetConvertJob(imageID string) (*types.ConvertJob, error) {
	var job *types.ConvertJob
	err := s.view(func(tx *Tx) error {
		var err error
		job, err = tx.GetConvertJob(imageID)
		return err
	})
	return job, err
}

func (s *BoltStore) UpdateConvertJob(job *types.ConvertJob) error {
	return s.WithTx(func(tx *Tx) error { return tx.PutConvertJob(job) })
}

func (s *BoltStore) ListConvertJobsByStatus(status types.ConvertJobStatus) ([]*types.ConvertJob, error) {
	var jobs []*types.ConvertJob
	err := s.view(func(tx *Tx) error {
		return tx.forEach(bucketConvertJobs, func(v []byte) error {
			var job types.ConvertJob
			if err := json.Unmarshal(v, &job); err != nil {
				return err
			}
			if job.Status == status {
				jobs = append(jobs, &job)
			}
			return nil
		})
	})
	return jobs, err
}

func (s *BoltStore) ClaimConvertJob(imageID string, from, to types.ConvertJobStatus) (*types.ConvertJob, error) {
	var job *types.ConvertJob
	err := s.WithTx(func(tx *Tx) error {
		var err error
		job, err = tx.ClaimConvertJob(imageID, from, to)
		return err
	})
	return job, err
}
