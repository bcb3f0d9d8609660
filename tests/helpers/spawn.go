package helpers

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/hbomb79/Telluride/internal/client"
)

var (
	mutex   = sync.Mutex{}
	portInc = 47100

	// shouldOutputLogs controls whether the logs from the spawned Telluride processes are
	// logged via the testing.T.
	shouldOutputLogs = os.Getenv("OUTPUT_TELLURIDE_LOGS") != ""

	binaryPath = EnvVarOrDefault("TELLURIDE_BINARY", "../../.bin/telluride")
)

func getNextPort() int {
	mutex.Lock()
	defer mutex.Unlock()

	portInc++
	return portInc
}

func keyValueToEnv(k, v string) string {
	return fmt.Sprintf("%s=%s", k, v)
}

const (
	EnvPort        = "TELLURIDE_PORT"
	EnvYtdlpBinary = "YTDLP_BINARY_PATH"
	EnvOutputDir   = "TELLURIDE_OUTPUT_DIR"
	EnvLogLevel    = "TELLURIDE_LOG_LEVEL"
)

// SpawnTelluride will spawn a new Telluride server process on the host system, with
// it's environment variables set as per the request provided. This function
// will BLOCK until the server answers on its ping endpoint (or, if the timeout
// is exceeded, in which case error is reported via the testing.T).
//
// Tests are skipped if the Telluride binary has not been built.
func SpawnTelluride(t *testing.T, req *ServiceRequest) *TestService {
	if _, err := os.Stat(binaryPath); err != nil {
		t.Skipf("Telluride binary not found at %s (set TELLURIDE_BINARY, or build it first): %v", binaryPath, err)
		return nil
	}

	port := getNextPort()
	t.Logf("Spawning Telluride process on port %d for request %s\n", port, req)

	if _, ok := req.environmentVariables[EnvPort]; !ok {
		req.environmentVariables[EnvPort] = strconv.Itoa(port)
	}
	if _, ok := req.environmentVariables[EnvOutputDir]; !ok {
		req.environmentVariables[EnvOutputDir] = t.TempDir()
	}
	if _, ok := req.environmentVariables[EnvLogLevel]; !ok {
		req.environmentVariables[EnvLogLevel] = "VERBOSE"
	}

	cmd := exec.Command(binaryPath, "--server")
	cmd.Env = os.Environ()
	for k, v := range req.environmentVariables {
		cmd.Env = append(cmd.Env, keyValueToEnv(k, v))
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("failed to provision Telluride instance: could not establish stdout pipe: %s", err)
		return nil
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		t.Fatalf("failed to provision Telluride instance: could not establish stderr pipe: %s", err)
		return nil
	}

	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to provision Telluride instance: could not start process: %s", err)
		return nil
	}

	t.Logf("Telluride process started (PID %d)", cmd.Process.Pid)
	go func() {
		scanner := bufio.NewScanner(io.MultiReader(stdout, stderr))
		for scanner.Scan() {
			if shouldOutputLogs {
				log.Printf("[Telluride pid=%d port=%d] -> %s", cmd.Process.Pid, port, scanner.Text())
			}
		}
	}()

	srv := newTestService(port, cmd)
	t.Cleanup(func() {
		if srv.hasExited() {
			return
		}

		t.Logf("Killing Telluride process (PID %d)...", cmd.Process.Pid)
		if err := cmd.Process.Kill(); err != nil {
			t.Logf("[WARNING] failed to cleanup Telluride instance: sending process kill failed: %s", err)
		}
		<-srv.exited

		if t.Failed() && !shouldOutputLogs {
			t.Log("\n**HINT: Supply the 'OUTPUT_TELLURIDE_LOGS' environment variable to see the logs from spawned Telluride instances")
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.NewForPort(port).WaitReady(ctx, 5*time.Second); err != nil {
		t.Fatalf("failed to provision Telluride instance: service did not become healthy before timeout (last error %+v)", err)
		return nil
	}

	t.Logf("Telluride process (pid %d, port %d) became healthy", cmd.Process.Pid, port)
	return srv
}

// CLIResult is the outcome of a single Telluride CLI invocation.
type CLIResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// RunTelluride runs the Telluride binary once with the arguments provided
// and waits for it to exit. The request's environment is applied the same
// way as for SpawnTelluride.
func RunTelluride(t *testing.T, req *ServiceRequest, args ...string) CLIResult {
	if _, err := os.Stat(binaryPath); err != nil {
		t.Skipf("Telluride binary not found at %s (set TELLURIDE_BINARY, or build it first): %v", binaryPath, err)
		return CLIResult{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, binaryPath, args...)
	cmd.Env = os.Environ()
	for k, v := range req.environmentVariables {
		cmd.Env = append(cmd.Env, keyValueToEnv(k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	result := CLIResult{}
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			t.Fatalf("failed to run Telluride %v: %s", args, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	result.Stdout, result.Stderr = stdout.String(), stderr.String()
	if shouldOutputLogs {
		log.Printf("[Telluride %v] exit=%d\n%s", args, result.ExitCode, result.Stderr)
	}

	return result
}
