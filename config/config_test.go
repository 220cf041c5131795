package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "nativegen.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[protection]
virtualization = true
constant-obfuscation = true
seed = 12345

[output]
dir = "build"
dump-stream = true
`)
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !c.Protection.Virtualization || !c.Protection.ConstantObfuscation {
		t.Error("protection switches not parsed")
	}
	if c.Protection.Seed != 12345 {
		t.Errorf("seed = %d", c.Protection.Seed)
	}
	if c.Output.Dir != "build" {
		t.Errorf("output dir = %q", c.Output.Dir)
	}
	if !c.Output.DumpStream {
		t.Error("dump-stream not parsed")
	}
	if c.Output.NativeDir != "native0" {
		t.Errorf("native dir default = %q", c.Output.NativeDir)
	}
	if !filepath.IsAbs(c.Dir) {
		t.Errorf("Dir not absolute: %q", c.Dir)
	}
	if c.OutputDir() != filepath.Join(c.Dir, "build") {
		t.Errorf("OutputDir = %q", c.OutputDir())
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "")
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Output.Dir != "out" || c.Output.NativeDir != "native0" {
		t.Errorf("defaults = %q, %q", c.Output.Dir, c.Output.NativeDir)
	}
	if c.Protection.Virtualization || c.Protection.ConstantObfuscation {
		t.Error("protections default on")
	}
}

func TestLoad_Missing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("missing file should fail")
	}
}

func TestLoad_Malformed(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "[protection\nvirtualization = ")
	if _, err := Load(dir); err == nil {
		t.Error("malformed toml should fail")
	}
}

func TestFindAndLoad_WalksUp(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[protection]\nseed = 7\n")
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if c == nil {
		t.Fatal("config not found from nested directory")
	}
	if c.Protection.Seed != 7 {
		t.Errorf("seed = %d", c.Protection.Seed)
	}
}

func TestFindAndLoad_NotFound(t *testing.T) {
	c, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad: %v", err)
	}
	if c != nil {
		t.Error("expected nil config when no file exists")
	}
}
