package main

import (
	"bytes"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDerivePrintsSixPersonas(t *testing.T) {
	out, err := run(t, "derive", "--traits", "4,2,5,3,2", "--gender", "female")
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if !strings.Contains(out, "profile O4_C2_E5_A3_N2_female") {
		t.Fatalf("missing profile key:\n%s", out)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 8 {
		t.Fatalf("lines: want=8 got=%d\n%s", len(lines), out)
	}
}

func TestDeriveRejectsBadTraits(t *testing.T) {
	for _, traits := range []string{"4,2,5", "4,2,5,3,9", "a,b,c,d,e"} {
		if _, err := run(t, "derive", "--traits", traits, "--gender", "female"); err == nil {
			t.Fatalf("traits %q: expected error", traits)
		}
	}
}

func TestKeyEncodeDecode(t *testing.T) {
	out, err := run(t, "key", "encode", "--traits", "1,5,3,2,4", "--gender", "male")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := strings.TrimSpace(out); got != "O1_C5_E3_A2_N4_male" {
		t.Fatalf("encode: want=O1_C5_E3_A2_N4_male got=%q", got)
	}

	out, err = run(t, "key", "decode", "O1_C5_E3_A2_N4_male")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(out, "openness=1") || !strings.Contains(out, "gender=male") {
		t.Fatalf("decode output: %q", out)
	}

	if _, err := run(t, "key", "decode", "O9_C5_E3_A2_N4_male"); err == nil {
		t.Fatalf("decode of out-of-range key should fail")
	}
}

func TestConfigDumpRedactsSecrets(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("COUNCIL_HTTP_JWT_SECRET", "super-secret-value")
	out, err := run(t, "config", "dump")
	if err != nil {
		t.Fatalf("config dump: %v", err)
	}
	if strings.Contains(out, "super-secret-value") {
		t.Fatalf("dump leaked the jwt secret:\n%s", out)
	}
	if !strings.Contains(out, "backend: memory") {
		t.Fatalf("dump missing store backend:\n%s", out)
	}
}

func TestTokenCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("COUNCIL_HTTP_JWT_SECRET", "cli-secret")
	out, err := run(t, "token", "user-1")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if strings.Count(strings.TrimSpace(out), ".") != 2 {
		t.Fatalf("token does not look like a jwt: %q", out)
	}
}
