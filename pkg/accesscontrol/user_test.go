package accesscontrol

import "testing"

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		email string
		want  bool
	}{
		{"alice@example.com", true},
		{"alice+tag@example.co.uk", true},
		{"not-an-email", false},
		{"@example.com", false},
		{"alice@", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidateEmail(tt.email); got != tt.want {
			t.Errorf("ValidateEmail(%q) = %v, want %v", tt.email, got, tt.want)
		}
	}
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid", "Str0ng!Passw0rd", false},
		{"too short", "Sh0rt!", true},
		{"no digit", "NoDigitsHere!!", true},
		{"no symbol", "NoSymbolsHere12", true},
		{"no upper", "alllowercase123!", true},
		{"no lower", "ALLUPPERCASE123!", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePassword(%q) error = %v, wantErr %v", tt.password, err, tt.wantErr)
			}
		})
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("Str0ng!Passw0rd")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if !VerifyPassword(hash, "Str0ng!Passw0rd") {
		t.Error("VerifyPassword() = false for correct password, want true")
	}
	if VerifyPassword(hash, "WrongPassw0rd!!") {
		t.Error("VerifyPassword() = true for wrong password, want false")
	}
}

func TestHashPassword_UniqueSalts(t *testing.T) {
	a, err := HashPassword("Str0ng!Passw0rd")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	b, err := HashPassword("Str0ng!Passw0rd")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if a == b {
		t.Error("expected distinct encoded hashes for the same password due to random salts")
	}
}

func TestVerifyPassword_MalformedEncoding(t *testing.T) {
	if VerifyPassword("not-a-valid-hash", "whatever") {
		t.Error("VerifyPassword() = true for malformed encoding, want false")
	}
}
