package signature

import "testing"

func TestSignAndVerify(t *testing.T) {
	secret := []byte("s3cr3t")
	payload := []byte(`{"run_id":"abc"}`)

	sig := Sign(secret, payload)
	if sig == "" {
		t.Fatal("expected non-empty signature")
	}
	if err := Verify(secret, payload, sig); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	secret := []byte("s3cr3t")
	sig := Sign(secret, []byte(`{"run_id":"abc"}`))

	if err := Verify(secret, []byte(`{"run_id":"abd"}`), sig); err == nil {
		t.Fatal("expected tampered payload to fail verification")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	payload := []byte(`{"run_id":"abc"}`)
	sig := Sign([]byte("one"), payload)

	if err := Verify([]byte("two"), payload, sig); err == nil {
		t.Fatal("expected wrong secret to fail verification")
	}
}

func TestVerifyRejectsMissingSignature(t *testing.T) {
	if err := Verify([]byte("s"), []byte("body"), ""); err == nil {
		t.Fatal("expected missing signature to fail verification")
	}
}
