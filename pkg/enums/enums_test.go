package enums

import "testing"

func TestParsePaymentPurposeAcceptsBothSpellings(t *testing.T) {
	cases := map[string]PaymentPurpose{
		"STORE_ORDER":  PurposeStoreOrder,
		"subscription": PurposeSubscription,
		" Tip ":        PurposeTip,
	}
	for raw, want := range cases {
		got, err := ParsePaymentPurpose(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parse %q: expected %s got %s", raw, want, got)
		}
	}
	if _, err := ParsePaymentPurpose("donation"); err == nil {
		t.Fatal("expected error for unknown purpose")
	}
}

func TestIntentStateTerminal(t *testing.T) {
	if IntentStatePending.IsTerminal() {
		t.Fatal("pending must not be terminal")
	}
	for _, s := range []IntentState{IntentStateCompleted, IntentStateFailed} {
		if !s.IsTerminal() {
			t.Fatalf("%s must be terminal", s)
		}
	}
	if _, err := ParseIntentState("settled"); err == nil {
		t.Fatal("expected error for unknown state")
	}
}

func TestOutboxEnums(t *testing.T) {
	if !EventPaymentCompleted.IsValid() || !EventPaymentFailed.IsValid() {
		t.Fatal("payment events must be valid")
	}
	if _, err := ParseOutboxAggregateType("payment_intent"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if OutboxEventType("order_created").IsValid() {
		t.Fatal("unexpected valid event type")
	}
}

func TestOutboxDLQErrorReason(t *testing.T) {
	reason, err := ParseOutboxDLQErrorReason("decode_failed")
	if err != nil || reason != OutboxDLQReasonDecodeFailed {
		t.Fatalf("unexpected parse result %q err=%v", reason, err)
	}
	if OutboxDLQErrorReason("timeout").IsValid() {
		t.Fatal("unexpected valid reason")
	}
	if _, err := ParseOutboxDLQErrorReason(""); err == nil {
		t.Fatal("expected error for empty reason")
	}
}

func TestParseMemberRole(t *testing.T) {
	if role, err := ParseMemberRole("ops"); err != nil || role != MemberRoleOps {
		t.Fatalf("unexpected role %q err=%v", role, err)
	}
	if _, err := ParseMemberRole("agent"); err == nil {
		t.Fatal("expected error for unknown role")
	}
}
