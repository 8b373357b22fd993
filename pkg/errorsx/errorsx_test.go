package errorsx

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapAndReason(t *testing.T) {
	base := errors.New("dial tcp: refused")
	err := Wrap(base, ReasonSTTConnect)

	if Reason(err) != ReasonSTTConnect {
		t.Fatalf("reason: %s", Reason(err))
	}
	if !HasReason(err, ReasonSTTConnect) {
		t.Fatal("HasReason should match")
	}
	if !errors.Is(err, base) {
		t.Fatal("wrapped error must unwrap to base")
	}
}

func TestWrapPreservesFirstReason(t *testing.T) {
	err := Wrap(errors.New("ws closed"), ReasonSTTInterrupted)
	err = Wrap(err, ReasonSTTSend)
	if Reason(err) != ReasonSTTInterrupted {
		t.Fatalf("first reason must win, got %s", Reason(err))
	}
}

func TestReasonSurvivesFmtWrap(t *testing.T) {
	err := fmt.Errorf("session teardown: %w", Wrap(errors.New("boom"), ReasonTTSSynthesize))
	if Reason(err) != ReasonTTSSynthesize {
		t.Fatalf("reason lost through fmt wrap: %s", Reason(err))
	}
}

func TestNilAndUnreasoned(t *testing.T) {
	if Wrap(nil, ReasonSTTConnect) != nil {
		t.Fatal("wrapping nil must stay nil")
	}
	if Reason(errors.New("plain")) != ReasonUnknown {
		t.Fatal("plain error has no reason")
	}
}
