package inference

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// writeScript writes a shell script the ProcessClient can run in place of
// the real Python engine.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script engine stand-in requires a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "engine.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func newTestClient(t *testing.T, body string, timeout time.Duration) *ProcessClient {
	t.Helper()
	return NewProcessClient(ProcessConfig{
		PythonBin:  "/bin/sh",
		ScriptPath: writeScript(t, body),
		Timeout:    timeout,
	}, nil)
}

func TestProcessClientSuccess(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, `cat >/dev/null
printf '{"response":"I remember the garden best.","tokens_generated":12,"generation_time":0.4}\n'
`, 5*time.Second)

	reply, err := client.Generate(context.Background(), Request{Message: "what do you remember?"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if reply.Response != "I remember the garden best." {
		t.Errorf("unexpected response: %q", reply.Response)
	}
	if reply.TokensGenerated != 12 {
		t.Errorf("unexpected token count: %d", reply.TokensGenerated)
	}
}

func TestProcessClientToleratesWarmupChatter(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, `cat >/dev/null
echo "loading model weights..."
printf '{"response":"hello"}\n'
`, 5*time.Second)

	reply, err := client.Generate(context.Background(), Request{Message: "hi"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if reply.Response != "hello" {
		t.Errorf("unexpected response: %q", reply.Response)
	}
}

func TestProcessClientNonZeroExit(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, `cat >/dev/null
echo "CUDA out of memory" >&2
exit 3
`, 5*time.Second)

	_, err := client.Generate(context.Background(), Request{Message: "hi"})
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
}

func TestProcessClientMalformedOutput(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, `cat >/dev/null
echo "this is not json"
`, 5*time.Second)

	_, err := client.Generate(context.Background(), Request{Message: "hi"})
	if !errors.Is(err, ErrMalformedOutput) {
		t.Fatalf("expected ErrMalformedOutput, got %v", err)
	}
}

func TestProcessClientErrorField(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, `cat >/dev/null
printf '{"response":"","error":"model not loaded"}\n'
`, 5*time.Second)

	_, err := client.Generate(context.Background(), Request{Message: "hi"})
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
}

func TestProcessClientTimeout(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, `sleep 10
`, 200*time.Millisecond)

	start := time.Now()
	_, err := client.Generate(context.Background(), Request{Message: "hi"})
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout did not bound the call: took %s", elapsed)
	}
}

func TestParseReplyEmptyResponse(t *testing.T) {
	t.Parallel()

	_, err := parseReply([]byte(`{"response":"   "}`))
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}
