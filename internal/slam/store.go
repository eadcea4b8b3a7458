package slam

import "sync"

// StateStore holds the latest pose and point set. Writers replace both under
// the write lock; readers copy under the read lock, so a reader never observes
// a pose from one generation paired with points from another.
type StateStore struct {
	mu         sync.RWMutex
	pose       Pose
	points     []Point3D
	generation uint64
}

// NewStateStore creates a store holding the given initial state. The store
// takes ownership of points.
func NewStateStore(pose Pose, points []Point3D) *StateStore {
	return &StateStore{pose: pose, points: points}
}

// Replace atomically swaps in a new pose and point set. The store takes
// ownership of points; callers must not modify the slice afterwards.
func (s *StateStore) Replace(pose Pose, points []Point3D) {
	s.mu.Lock()
	s.pose = pose
	s.points = points
	s.generation++
	s.mu.Unlock()
}

// SnapshotPose returns the latest pose.
func (s *StateStore) SnapshotPose() Pose {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pose
}

// SnapshotPoints returns a copy of the latest point set.
func (s *StateStore) SnapshotPoints() []Point3D {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clonePoints(s.points)
}

// Snapshot returns the latest pose and a copy of the point set taken under a
// single lock acquisition.
func (s *StateStore) Snapshot() (Pose, []Point3D) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pose, clonePoints(s.points)
}

// PointCount returns the size of the latest point set without copying it.
func (s *StateStore) PointCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

// Generation returns how many times Replace has been called.
func (s *StateStore) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

func clonePoints(points []Point3D) []Point3D {
	out := make([]Point3D, len(points))
	copy(out, points)
	return out
}
