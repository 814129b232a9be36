package auth

import "testing"

var cheapParams = Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16}

func TestPasswordRoundTrip(t *testing.T) {
	encoded, err := HashPasswordWithParams("s3cret!", cheapParams)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	ok, err := VerifyPassword("s3cret!", encoded)
	if err != nil || !ok {
		t.Fatalf("expected password to verify, got %v %v", ok, err)
	}
	ok, err = VerifyPassword("wrong", encoded)
	if err != nil || ok {
		t.Fatalf("expected wrong password rejected, got %v %v", ok, err)
	}
}

func TestVerifyPasswordRejectsMalformedHash(t *testing.T) {
	for _, encoded := range []string{"", "plain", "$bcrypt$v=19$m=1,t=1,p=1$a$b"} {
		if _, err := VerifyPassword("x", encoded); err == nil {
			t.Fatalf("expected error for %q", encoded)
		}
	}
}

func TestTokens(t *testing.T) {
	a, err := GenerateToken()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, _ := GenerateToken()
	if a == b || len(a) != 43 {
		t.Fatalf("expected distinct 43-char tokens, got %q %q", a, b)
	}
	if HashToken(a) == a || HashToken(a) != HashToken(a) {
		t.Fatalf("expected stable hash distinct from token")
	}
	if !TokensEqual(a, a) || TokensEqual(a, b) || TokensEqual("", "") {
		t.Fatalf("unexpected token comparison results")
	}
}

func TestRolePermissions(t *testing.T) {
	if !RoleAdmin.Can(PermReconcile) || RoleStaff.Can(PermReconcile) {
		t.Fatalf("expected only admin to reconcile everything")
	}
	if RoleViewer.Can(PermImportsWrite) || !RoleViewer.Can(PermCustomersRead) {
		t.Fatalf("expected viewer to be read-only")
	}
	if _, ok := ParseRole("owner"); ok {
		t.Fatalf("expected unknown role rejected")
	}
}
