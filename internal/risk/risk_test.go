package risk

import (
	"testing"

	"ArcFlow/internal/intent"
)

func mustIntent(t *testing.T, recipient, amount string) *intent.TransactionIntent {
	t.Helper()
	it, err := intent.Sanitize(recipient, amount)
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	return it
}

func TestScoreTrustedSmallAmount(t *testing.T) {
	cfg := DefaultConfig()
	it := mustIntent(t, "0x937402B657c91D9E74fcf373187F1758c0D8E933", "0.1 USDC")

	assessment := Score(it, cfg)
	if assessment.Score != 0 {
		t.Fatalf("expected score 0, got %d", assessment.Score)
	}
	if len(assessment.Factors) != 0 {
		t.Fatalf("expected no factors, got %v", assessment.Factors)
	}
	if assessment.Status != StatusPending {
		t.Fatalf("expected PENDING, got %s", assessment.Status)
	}
}

func TestScoreUnknownHighVolume(t *testing.T) {
	cfg := DefaultConfig()
	it := mustIntent(t, "0xUNKNOWN0000000000000000000000000000000001", "25")

	assessment := Score(it, cfg)
	if assessment.Score != 90 {
		t.Fatalf("expected score 90, got %d", assessment.Score)
	}
	if len(assessment.Factors) != 2 ||
		assessment.Factors[0] != FactorUnknownEntity ||
		assessment.Factors[1] != FactorHighVolume {
		t.Fatalf("unexpected factor order: %v", assessment.Factors)
	}
}

func TestScoreDeterministic(t *testing.T) {
	cfg := DefaultConfig()
	it := mustIntent(t, "0xUNKNOWN0000000000000000000000000000000001", "25")

	first := Score(it, cfg)
	second := Score(it, cfg)
	if first.Score != second.Score {
		t.Fatalf("score not deterministic: %d vs %d", first.Score, second.Score)
	}
	if len(first.Factors) != len(second.Factors) {
		t.Fatalf("factors not deterministic: %v vs %v", first.Factors, second.Factors)
	}
	for i := range first.Factors {
		if first.Factors[i] != second.Factors[i] {
			t.Fatalf("factors not deterministic: %v vs %v", first.Factors, second.Factors)
		}
	}
}

func TestWithStatusDoesNotAlias(t *testing.T) {
	cfg := DefaultConfig()
	it := mustIntent(t, "0xUNKNOWN0000000000000000000000000000000001", "25")

	assessment := Score(it, cfg)
	final := assessment.WithStatus(StatusBlockedCritical)

	if assessment.Status != StatusPending {
		t.Fatalf("original assessment mutated: %s", assessment.Status)
	}
	if final.Status != StatusBlockedCritical {
		t.Fatalf("copy missing status: %s", final.Status)
	}
	final.Factors[0] = Factor("MUTATED")
	if assessment.Factors[0] != FactorUnknownEntity {
		t.Fatalf("factor slice shared between copies")
	}
}

func TestStatusTerminal(t *testing.T) {
	if StatusPending.Terminal() {
		t.Fatalf("PENDING must not be terminal")
	}
	for _, status := range []Status{StatusBlockedCritical, StatusBlockedPolicy, StatusBroadcasted, StatusFailedEVM} {
		if !status.Terminal() {
			t.Fatalf("%s must be terminal", status)
		}
	}
}
