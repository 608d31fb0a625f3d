package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObservePersist(t *testing.T) {
	before := testutil.ToFloat64(PersistFailures.WithLabelValues("test"))

	ObservePersist("test", time.Now(), 123, nil)
	assert.Equal(t, float64(123), testutil.ToFloat64(SnapshotBytes))

	ObservePersist("test", time.Now(), 456, errors.New("disk full"))
	assert.Equal(t, before+1, testutil.ToFloat64(PersistFailures.WithLabelValues("test")))
	assert.Equal(t, float64(123), testutil.ToFloat64(SnapshotBytes), "failed saves keep the last size")
}
