package commands

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gogpu/gcompute"
	"github.com/gogpu/gcompute/backend/native"
	"github.com/gogpu/gcompute/internal/config"
)

const testJob = `
buffers:
  - {name: in, size: 16, usage: [shader-read, host-write], data: [1, 2, 3, 4]}
  - {name: out, size: 16, usage: [shader-write, host-read]}
pipelines:
  - name: double
    entry_point: main
    source: |
      @group(0) @binding(0) var<storage, read> src: array<u32>;
      @group(0) @binding(1) var<storage, read_write> dst: array<u32>;
      @compute @workgroup_size(4)
      fn main(@builtin(global_invocation_id) id: vec3<u32>) {
          dst[id.x] = src[id.x] * 2u;
      }
    bindings:
      - {slot: 0, type: read-only-storage}
      - {slot: 1, type: storage}
groups:
  - id: 1
    passes:
      - pipeline: double
        workgroups: [1, 1, 1]
        bindings:
          - {buffer: in, slot: 0, mode: read}
          - {buffer: out, slot: 1, mode: write}
    return: [out]
`

func writeJob(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Cleanup(func() {
		gcompute.SetLogger(nil)
		native.SetLogger(nil)
	})

	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunOnSimulator(t *testing.T) {
	path := writeJob(t, testJob)
	outDir := t.TempDir()
	out, err := execute(t, "run", "--backend", "sim", "--tick-interval", "1ms", "--out", outDir, path)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	for _, want := range []string{
		"copy    request=1 group=1 buffer=out bytes=16",
		"group   request=1 group=1 ok",
		"request request=1 groups=1 failed=0",
		"1 dispatches, 1 copies, 16 bytes read",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	data, err := os.ReadFile(filepath.Join(outDir, "r1-g1-out.bin"))
	if err != nil {
		t.Fatalf("payload file: %v", err)
	}
	if len(data) != 16 {
		t.Errorf("payload file has %d bytes, want 16", len(data))
	}
}

func TestRunOnNoopDevice(t *testing.T) {
	path := writeJob(t, testJob)
	out, err := execute(t, "run", "--backend", "noop", "--tick-interval", "1ms", "--dump", path)
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "[0 0 0 0]") {
		t.Errorf("noop payload not dumped:\n%s", out)
	}
}

func TestValidate(t *testing.T) {
	out, err := execute(t, "validate", "--backend", "sim", writeJob(t, testJob))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "ok (2 buffers, 1 pipelines, 1 groups, 1 passes)") {
		t.Errorf("output = %q", out)
	}

	bad := strings.Replace(testJob, "{buffer: out, slot: 1, mode: write}", "{buffer: missing, slot: 1, mode: write}", 1)
	_, err = execute(t, "validate", "--backend", "sim", writeJob(t, bad))
	if !errors.Is(err, gcompute.ErrGroupValidation) {
		t.Fatalf("validate of bad job = %v, want ErrGroupValidation", err)
	}
}

func TestInvalidConfig(t *testing.T) {
	_, err := execute(t, "validate", "--backend", "cuda", writeJob(t, testJob))
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestBackends(t *testing.T) {
	out, err := execute(t, "backends", "--backend", "noop")
	if err != nil {
		t.Fatalf("backends: %v", err)
	}
	for _, want := range []string{"engine backends:", "noop", "sim", "vulkan", "registered HAL backends:", "configured: noop"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunArgs(t *testing.T) {
	if _, err := execute(t, "run"); err == nil {
		t.Fatal("run without a job file succeeded")
	}
}
