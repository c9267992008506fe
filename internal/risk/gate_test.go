package risk

import (
	"strings"
	"testing"
)

func TestGateCriticalRiskBeforeCap(t *testing.T) {
	cfg := DefaultConfig()
	// 金额远低于硬性上限，仅凭风险分也必须被拦截。
	it := mustIntent(t, "0xUNKNOWN0000000000000000000000000000000001", "25")

	assessment := Score(it, cfg)
	decision := Gate(it, assessment, cfg)
	if decision.Status != StatusBlockedCritical {
		t.Fatalf("expected BLOCKED_CRITICAL, got %s", decision.Status)
	}
	if !strings.Contains(decision.Reason, "Risk Threshold Exceeded (90/100)") {
		t.Fatalf("unexpected reason: %s", decision.Reason)
	}
}

func TestGateHardCap(t *testing.T) {
	cfg := DefaultConfig()
	it := mustIntent(t, "0x937402b657c91d9e74fcf373187f1758c0d8e933", "60")

	assessment := Score(it, cfg)
	if assessment.Score != 50 {
		t.Fatalf("expected score 50 for trusted high volume, got %d", assessment.Score)
	}
	decision := Gate(it, assessment, cfg)
	if decision.Status != StatusBlockedPolicy {
		t.Fatalf("expected BLOCKED_POLICY, got %s", decision.Status)
	}
	if !strings.Contains(decision.Reason, "Policy Limit Exceeded (Req: 60 > Cap: 50)") {
		t.Fatalf("unexpected reason: %s", decision.Reason)
	}
}

func TestGateAllowsLowRiskUnderCap(t *testing.T) {
	cfg := DefaultConfig()
	cases := []struct {
		name      string
		recipient string
		amount    string
	}{
		{"trusted small", "0x937402b657c91d9e74fcf373187f1758c0d8e933", "0.1"},
		{"unknown but small", "0xUNKNOWN0000000000000000000000000000000001", "5"},
		{"trusted at cap", "0x937402b657c91d9e74fcf373187f1758c0d8e933", "50"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			it := mustIntent(t, tc.recipient, tc.amount)
			decision := Gate(it, Score(it, cfg), cfg)
			if decision.Status != StatusPending {
				t.Fatalf("expected PENDING, got %s (%s)", decision.Status, decision.Reason)
			}
		})
	}
}
