package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "missing.env")))

	// Flag values persist between executions of the package-level commands
	cfgFile = ""
	templateSubject, templateBody, templateBodyFile, templateDataJSON = "", "", "", ""
	templateVars = nil
	apikeyCost = bcrypt.DefaultCost

	err := rootCmd.Execute()
	return out.String(), errOut.String(), err
}

func TestParseVars(t *testing.T) {
	fields, err := parseVars(`{"first_name":"Jane","city":"Oslo"}`, []string{"city=Bergen", "note=a=b"})
	if err != nil {
		t.Fatal(err)
	}
	if fields["first_name"] != "Jane" || fields["city"] != "Bergen" || fields["note"] != "a=b" {
		t.Errorf("parseVars() = %v", fields)
	}

	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseVars("", []string{bad}); err == nil {
			t.Errorf("parseVars(%q) error = nil", bad)
		}
	}
	if _, err := parseVars("{", nil); err == nil {
		t.Error("parseVars(bad json) error = nil")
	}
}

func TestTemplateRenderCommand(t *testing.T) {
	out, errOut, err := execute(t, "",
		"template", "render",
		"--subject", "Hi {{first_name}}",
		"--body", "About {{address}} and {{ first_name }}",
		"--var", "first_name=Jane",
	)
	if err != nil {
		t.Fatalf("render error = %v", err)
	}
	if !strings.Contains(out, "Subject: Hi Jane") || !strings.Contains(out, "About {{address}} and Jane") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(errOut, "address") {
		t.Errorf("stderr = %q, want unresolved address", errOut)
	}
}

func TestAPIKeyHashCommand(t *testing.T) {
	out, _, err := execute(t, "s3cret\n", "apikey", "hash", "--cost", "4")
	if err != nil {
		t.Fatalf("hash error = %v", err)
	}
	hash := strings.TrimSpace(out)
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")); err != nil {
		t.Errorf("hash does not match key: %v", err)
	}
}

func TestConfigValidateCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "storage:\n  path: " + filepath.Join(dir, "o.db") + "\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	out, _, err := execute(t, "", "config", "validate", "-c", path)
	if err != nil {
		t.Fatalf("validate error = %v", err)
	}
	if !strings.Contains(out, "Configuration is valid") || !strings.Contains(out, "Locks: memory") {
		t.Errorf("output = %q", out)
	}

	if _, _, err := execute(t, "", "config", "validate"); err == nil {
		t.Error("validate without -c error = nil")
	}
}

func TestTemplateSeedAndList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "storage:\n  path: " + filepath.Join(dir, "o.db") + "\n"
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	out, _, err := execute(t, "", "template", "seed", "-c", path)
	if err != nil {
		t.Fatalf("seed error = %v", err)
	}
	if !strings.Contains(out, "Created 3 template(s)") {
		t.Errorf("seed output = %q", out)
	}

	out, _, err = execute(t, "", "template", "list", "-c", path)
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	if !strings.Contains(out, "Initial outreach") {
		t.Errorf("list output = %q", out)
	}
}
