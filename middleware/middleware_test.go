package middleware

import (
	"testing"
	"time"
)

func TestIssueAndValidateAdminToken(t *testing.T) {
	secret := "test-secret"

	token, err := IssueAdminToken(secret, "ops", "superadmin")
	if err != nil {
		t.Fatalf("IssueAdminToken: %v", err)
	}

	claims, err := ValidateAdminToken(secret, token)
	if err != nil {
		t.Fatalf("ValidateAdminToken: %v", err)
	}
	if claims.Username != "ops" || claims.Role != "superadmin" {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := ValidateAdminToken("other-secret", token); err == nil {
		t.Error("token signed with a different secret must not validate")
	}
	if _, err := ValidateAdminToken(secret, token+"x"); err == nil {
		t.Error("tampered token must not validate")
	}
}

func TestIssueAdminTokenRequiresSecret(t *testing.T) {
	if _, err := IssueAdminToken("", "ops", "admin"); err == nil {
		t.Error("expected error with empty secret")
	}
}

func TestRateLimiterLocksAfterMaxAttempts(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute, time.Minute)
	ip := "10.0.0.1"

	for i := 0; i < 3; i++ {
		allowed, _, _ := rl.Check(ip)
		if !allowed {
			t.Fatalf("attempt %d should be allowed", i+1)
		}
		rl.RecordAttempt(ip, false)
	}

	allowed, remaining, lock := rl.Check(ip)
	if allowed {
		t.Error("expected lock after max failed attempts")
	}
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}
	if lock <= 0 {
		t.Errorf("lock duration = %v, want > 0", lock)
	}

	// Other IPs are unaffected.
	if allowed, _, _ := rl.Check("10.0.0.2"); !allowed {
		t.Error("different IP should not be locked")
	}
}

func TestRateLimiterResetsOnSuccess(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute, time.Minute)
	ip := "10.0.0.3"

	rl.RecordAttempt(ip, false)
	rl.RecordAttempt(ip, false)
	rl.RecordAttempt(ip, true)

	_, remaining, _ := rl.Check(ip)
	if remaining != 3 {
		t.Errorf("remaining after success = %d, want 3", remaining)
	}
}

func TestRateLimiterWindowExpiry(t *testing.T) {
	rl := NewRateLimiter(2, 20*time.Millisecond, time.Minute)
	ip := "10.0.0.4"

	rl.RecordAttempt(ip, false)
	time.Sleep(30 * time.Millisecond)

	_, remaining, _ := rl.Check(ip)
	if remaining != 2 {
		t.Errorf("remaining after window expiry = %d, want 2", remaining)
	}
}
