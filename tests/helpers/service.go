package helpers

import (
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/hbomb79/Telluride/internal/client"
)

func EnvVarOrDefault(key string, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	} else {
		return def
	}
}

// ServiceRequest describes the environment a spawned
// Telluride process should be started with.
type ServiceRequest struct {
	environmentVariables map[string]string
}

func NewServiceRequest() *ServiceRequest {
	return &ServiceRequest{environmentVariables: make(map[string]string)}
}

func (req *ServiceRequest) WithEnvironmentVariable(key string, value string) *ServiceRequest {
	req.environmentVariables[key] = value
	return req
}

// WithYtdlpBinary points the spawned process at the yt-dlp executable
// provided, typically one created by WriteFakeYtdlp.
func (req *ServiceRequest) WithYtdlpBinary(path string) *ServiceRequest {
	return req.WithEnvironmentVariable(EnvYtdlpBinary, path)
}

func (req *ServiceRequest) String() string {
	return fmt.Sprintf("ServiceRequest{env=%v}", req.environmentVariables)
}

// TestService holds information about a spawned Telluride
// process which a test can send requests to.
type TestService struct {
	Port int

	cmd     *exec.Cmd
	exited  chan struct{}
	exitErr error
}

func newTestService(port int, cmd *exec.Cmd) *TestService {
	srv := &TestService{Port: port, cmd: cmd, exited: make(chan struct{})}
	go func() {
		srv.exitErr = cmd.Wait()
		close(srv.exited)
	}()

	return srv
}

func (service *TestService) String() string {
	return fmt.Sprintf("TestService{port=%d}", service.Port)
}

func (service *TestService) NewClient() *client.Client {
	return client.NewForPort(service.Port)
}

// RequireExit waits for the process to exit, failing the test if it does
// not do so within the timeout provided. The exit error is returned.
func (service *TestService) RequireExit(t *testing.T, timeout time.Duration) error {
	select {
	case <-service.exited:
		return service.exitErr
	case <-time.After(timeout):
		t.Fatalf("Telluride process on port %d did not exit within %s", service.Port, timeout)
		return nil
	}
}

func (service *TestService) hasExited() bool {
	select {
	case <-service.exited:
		return true
	default:
		return false
	}
}
