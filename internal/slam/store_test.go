package slam

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateStore_ReplaceAndSnapshot(t *testing.T) {
	s := NewStateStore(IdentityPose(0), nil)
	assert.Equal(t, 0, s.PointCount())
	assert.Equal(t, uint64(0), s.Generation())

	pose := Pose{Position: Vector3{X: 1, Y: 2, Z: 3}, Orientation: IdentityQuaternion, Timestamp: 7}
	s.Replace(pose, []Point3D{{X: 1}, {Y: 2}})

	assert.Equal(t, pose, s.SnapshotPose())
	assert.Equal(t, []Point3D{{X: 1}, {Y: 2}}, s.SnapshotPoints())
	assert.Equal(t, 2, s.PointCount())
	assert.Equal(t, uint64(1), s.Generation())

	gotPose, gotPoints := s.Snapshot()
	assert.Equal(t, pose, gotPose)
	assert.Len(t, gotPoints, 2)
}

func TestStateStore_SnapshotIsACopy(t *testing.T) {
	s := NewStateStore(IdentityPose(0), []Point3D{{X: 1}})

	points := s.SnapshotPoints()
	points[0].X = 99

	assert.Equal(t, 1.0, s.SnapshotPoints()[0].X)
}

// Each writer stores a pose whose timestamp equals the point count, so a torn
// read would show up as a mismatch.
func TestStateStore_ConcurrentReadersSeeConsistentPairs(t *testing.T) {
	s := NewStateStore(IdentityPose(1), make([]Point3D, 1))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for n := 1; n <= 500; n++ {
			s.Replace(IdentityPose(uint64(n%50+1)), make([]Point3D, n%50+1))
		}
		close(stop)
	}()

	errs := make(chan string, 8)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				pose, points := s.Snapshot()
				if int(pose.Timestamp) != len(points) {
					select {
					case errs <- "torn snapshot":
					default:
					}
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errs)
	for e := range errs {
		require.Fail(t, e)
	}
	assert.Equal(t, uint64(500), s.Generation())
}
