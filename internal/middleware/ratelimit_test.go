package middleware

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/vox-ai-tgbot-go/internal/config"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newController(globalRequests int, globalWindow time.Duration, userRequests int, userWindow time.Duration) *AdmissionController {
	return NewAdmissionController(&config.RateLimitConfig{
		GlobalRequests: globalRequests,
		GlobalWindow:   globalWindow,
		UserRequests:   userRequests,
		UserWindow:     userWindow,
		LimiterTTL:     time.Hour,
	}, testLogger())
}

func TestAdmitConsumesUserPermits(t *testing.T) {
	// Large global pool so only the per-user limiter binds
	ac := newController(1000, time.Minute, 2, time.Minute)

	assert.Equal(t, Admitted, ac.Admit(1))
	assert.Equal(t, Admitted, ac.Admit(1))
	assert.Equal(t, UserLimited, ac.Admit(1))

	// Exhaustion is stable, repeated attempts stay rejected
	for i := 0; i < 10; i++ {
		assert.Equal(t, UserLimited, ac.Admit(1))
	}
}

func TestAdmitUsersAreIndependent(t *testing.T) {
	ac := newController(1000, time.Minute, 1, time.Minute)

	assert.Equal(t, Admitted, ac.Admit(1))
	assert.Equal(t, UserLimited, ac.Admit(1))

	// Another user still has a full bucket
	assert.Equal(t, Admitted, ac.Admit(2))
}

func TestAdmitGlobalCheckedFirst(t *testing.T) {
	ac := newController(1, time.Minute, 5, time.Minute)

	assert.Equal(t, Admitted, ac.Admit(1))
	assert.Equal(t, GlobalLimited, ac.Admit(2))
	assert.Equal(t, GlobalLimited, ac.Admit(1))
}

func TestGlobalRejectionLeavesUserPermitsIntact(t *testing.T) {
	// Global refills one permit per 50ms; user gets exactly one permit
	ac := newController(1, 50*time.Millisecond, 1, time.Hour)

	assert.Equal(t, Admitted, ac.Admit(1))
	assert.Equal(t, GlobalLimited, ac.Admit(2))

	// Once the global bucket refills, user 2 must still have their full
	// allowance: the earlier global rejection consumed nothing from it.
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, Admitted, ac.Admit(2))
}

func TestUserPermitsRefillOverTime(t *testing.T) {
	ac := newController(1000, time.Minute, 1, 50*time.Millisecond)

	assert.Equal(t, Admitted, ac.Admit(1))
	assert.Equal(t, UserLimited, ac.Admit(1))

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, Admitted, ac.Admit(1))
}

func TestResetRestoresFullAllowance(t *testing.T) {
	ac := newController(1000, time.Minute, 1, time.Hour)

	assert.Equal(t, Admitted, ac.Admit(1))
	assert.Equal(t, UserLimited, ac.Admit(1))

	ac.Reset(1)
	assert.Equal(t, Admitted, ac.Admit(1))
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "admitted", Admitted.String())
	assert.Equal(t, "global_limited", GlobalLimited.String())
	assert.Equal(t, "user_limited", UserLimited.String())
}
