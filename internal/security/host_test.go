package security

import "testing"

func TestValidateHostRejectsSSRFTargets(t *testing.T) {
	cases := []string{
		"127.0.0.1",
		"10.0.0.5",
		"172.20.0.1",
		"server.local",
		"[fe80::1]",
		"LocalHost",
		"0.0.0.0",
		"192.168.1.1",
		"169.254.169.254",
		"[fc00::1]",
		"[::ffff:10.0.0.1]",
		"host.internal",
		"evil.com/../x",
		"",
	}
	for _, in := range cases {
		if _, err := ValidateHost(in); err == nil {
			t.Errorf("ValidateHost(%q) = nil error, want rejection", in)
		}
	}
}

func TestValidateHostAcceptsPublicDomain(t *testing.T) {
	got, err := ValidateHost("Misskey.Example.Com")
	if err != nil {
		t.Fatalf("ValidateHost: %v", err)
	}
	if got != "misskey.example.com" {
		t.Fatalf("got %q, want normalized lowercase host", got)
	}
}

func TestValidateHost172RangeBoundaries(t *testing.T) {
	if _, err := ValidateHost("172.15.0.1"); err != nil {
		t.Fatalf("172.15.0.1 should be outside the private range: %v", err)
	}
	if _, err := ValidateHost("172.32.0.1"); err != nil {
		t.Fatalf("172.32.0.1 should be outside the private range: %v", err)
	}
	if _, err := ValidateHost("172.16.0.1"); err == nil {
		t.Fatal("172.16.0.1 should be rejected as private")
	}
	if _, err := ValidateHost("172.31.255.255"); err == nil {
		t.Fatal("172.31.255.255 should be rejected as private")
	}
}
