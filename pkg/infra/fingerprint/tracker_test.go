package fingerprint_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/NeuralTrust/TrustGuard/pkg/infra/cache"
	"github.com/NeuralTrust/TrustGuard/pkg/infra/fingerprint"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_Store(t *testing.T) {
	db, mock := redismock.NewClientMock()
	tr := fingerprint.NewTracker(cache.NewFromRedis(db))
	s := fingerprint.Sighting{ID: "fp_a", IP: "203.0.113.5", UserAgent: "Mozilla/5.0 X"}
	data, err := json.Marshal(s)
	require.NoError(t, err)

	mock.ExpectSet("fp:fp_a", data, time.Hour).SetVal("OK")
	mock.ExpectIncr("fp:fp_a:seen").SetVal(1)
	mock.ExpectExpire("fp:fp_a:seen", time.Hour).SetVal(true)
	mock.ExpectSAdd("fp_by_ip:203.0.113.5", "fp_a").SetVal(1)
	mock.ExpectExpire("fp_by_ip:203.0.113.5", time.Hour).SetVal(true)
	mock.ExpectSAdd("fp_by_ua:mozilla/5.0 x", "fp_a").SetVal(1)
	mock.ExpectExpire("fp_by_ua:mozilla/5.0 x", time.Hour).SetVal(true)

	require.NoError(t, tr.Store(context.Background(), s, time.Hour))
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Error(t, tr.Store(context.Background(), fingerprint.Sighting{IP: "203.0.113.5"}, time.Hour))
}

func TestTracker_FindSimilar(t *testing.T) {
	db, mock := redismock.NewClientMock()
	tr := fingerprint.NewTracker(cache.NewFromRedis(db))
	s := fingerprint.Sighting{ID: "fp_a", IP: "203.0.113.5", UserAgent: "Mozilla/5.0 X"}
	near := fingerprint.Sighting{ID: "fp_b", IP: "203.0.113.5", UserAgent: "Mozilla/5.0 Y"}
	far := fingerprint.Sighting{ID: "fp_c", IP: "198.51.100.9", UserAgent: "curl/8.0"}
	nearData, _ := json.Marshal(near)
	farData, _ := json.Marshal(far)

	mock.ExpectSUnion("fp_by_ip:203.0.113.5", "fp_by_ua:mozilla/5.0 x").SetVal([]string{"fp_a", "fp_b", "fp_c"})
	mock.ExpectGet("fp:fp_b").SetVal(string(nearData))
	mock.ExpectGet("fp:fp_c").SetVal(string(farData))

	similar, err := tr.FindSimilar(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, []fingerprint.Sighting{near}, similar)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTracker_FindSimilarNeedsTwoAttributes(t *testing.T) {
	db, mock := redismock.NewClientMock()
	tr := fingerprint.NewTracker(cache.NewFromRedis(db))

	similar, err := tr.FindSimilar(context.Background(), fingerprint.Sighting{ID: "fp_a", IP: "203.0.113.5"})
	require.NoError(t, err)
	assert.Empty(t, similar)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTracker_Quarantine(t *testing.T) {
	db, mock := redismock.NewClientMock()
	tr := fingerprint.NewTracker(cache.NewFromRedis(db))
	ctx := context.Background()

	mock.ExpectSet("fp:fp_a:quarantined", "1", time.Hour).SetVal("OK")
	mock.ExpectExists("fp:fp_a:quarantined").SetVal(1)
	mock.ExpectDel("fp:fp_a:quarantined").SetVal(1)
	mock.ExpectExists("fp:fp_a:quarantined").SetVal(0)

	require.NoError(t, tr.Quarantine(ctx, "fp_a", time.Hour))
	quarantined, err := tr.IsQuarantined(ctx, "fp_a")
	require.NoError(t, err)
	assert.True(t, quarantined)

	require.NoError(t, tr.Release(ctx, "fp_a"))
	quarantined, err = tr.IsQuarantined(ctx, "fp_a")
	require.NoError(t, err)
	assert.False(t, quarantined)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTracker_IncrementMaliciousCount(t *testing.T) {
	db, mock := redismock.NewClientMock()
	tr := fingerprint.NewTracker(cache.NewFromRedis(db))

	mock.ExpectIncr("fp:fp_a:malicious").SetVal(3)
	mock.ExpectExpire("fp:fp_a:malicious", 24*time.Hour).SetVal(true)

	count, err := tr.IncrementMaliciousCount(context.Background(), "fp_a", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
