package middleware_test

import (
	"context"
	"testing"

	"github.com/palaverhq/palaver/pkg/flow"
	"github.com/palaverhq/palaver/pkg/persistence/middleware"
)

func TestPIIMiddleware_Masking(t *testing.T) {
	underlyingStore := NewMockStore()
	// Mask keys containing "password" or "ssn"
	mw := middleware.NewPIIMiddleware([]string{"password", "ssn"})
	secureStore := mw(underlyingStore)

	ctx := context.Background()
	sessionID := "pii-session"
	fc := flow.NewContext("onboarding", "start")

	fc.Answers["username"] = "jdoe"
	fc.Answers["user_password"] = "secret123"
	fc.Answers["details"] = map[string]any{
		"address":    "123 St",
		"ssn_number": "999-99-9999",
	}
	fc.Answers["safe_data"] = "public"

	if err := secureStore.Save(ctx, sessionID, fc); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// The engine's in-memory copy must stay untouched.
	if fc.Answers["user_password"] != "secret123" {
		t.Error("Middleware modified original state in memory!")
	}

	stored, err := underlyingStore.Load(ctx, sessionID)
	if err != nil {
		t.Fatalf("Underlying load failed: %v", err)
	}

	if stored.Answers["username"] != "jdoe" {
		t.Error("Username shouldn't be masked")
	}
	if stored.Answers["user_password"] != "***" {
		t.Errorf("Password should be masked, got: %v", stored.Answers["user_password"])
	}
	details := stored.Answers["details"].(map[string]any)
	if details["ssn_number"] != "***" {
		t.Errorf("Nested SSN should be masked, got: %v", details["ssn_number"])
	}
}

func TestPIIMiddleware_MasksSuspendedFrames(t *testing.T) {
	underlyingStore := NewMockStore()
	mw := middleware.NewPIIMiddleware([]string{"card"})
	secureStore := mw(underlyingStore)

	ctx := context.Background()
	fc := flow.NewContext("checkout", "call_payment")
	fc.Frames = []*flow.SubflowFrame{{
		FlowRef:    "payment",
		CallNodeID: "call_payment",
		ParentAnswers: map[string]any{
			"card_number": "4111111111111111",
			"item":        "book",
		},
	}}

	if err := secureStore.Save(ctx, "frames", fc); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	stored, err := underlyingStore.Load(ctx, "frames")
	if err != nil {
		t.Fatalf("Underlying load failed: %v", err)
	}
	parked := stored.Frames[0].ParentAnswers
	if parked["card_number"] != "***" {
		t.Errorf("Parked card number should be masked, got: %v", parked["card_number"])
	}
	if parked["item"] != "book" {
		t.Errorf("Parked item shouldn't be masked, got: %v", parked["item"])
	}
	// Original frame untouched.
	if fc.Frames[0].ParentAnswers["card_number"] != "4111111111111111" {
		t.Error("Middleware modified original frame in memory!")
	}
}

func TestChainComposesOutermostFirst(t *testing.T) {
	underlyingStore := NewMockStore()
	key := generateKey(t)
	store := middleware.Chain(underlyingStore,
		middleware.NewPIIMiddleware([]string{"password"}),
		middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: key}),
	)

	ctx := context.Background()
	fc := flow.NewContext("onboarding", "start")
	fc.Answers["password"] = "hunter2"
	fc.Answers["name"] = "Ada"

	if err := store.Save(ctx, "chained", fc); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Masked before encryption: a decrypted load shows *** while the
	// backing store only holds the envelope.
	loaded, err := store.Load(ctx, "chained")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Answers["password"] != "***" {
		t.Errorf("Expected masked password after chain, got: %v", loaded.Answers["password"])
	}
	if loaded.Answers["name"] != "Ada" {
		t.Errorf("Expected name preserved, got: %v", loaded.Answers["name"])
	}

	raw, err := underlyingStore.Load(ctx, "chained")
	if err != nil {
		t.Fatalf("Underlying load failed: %v", err)
	}
	if _, ok := raw.Answers["__encrypted__"]; !ok {
		t.Fatal("Expected encrypted envelope in backing store")
	}
}
