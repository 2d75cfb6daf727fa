package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/incidentdesk/internal/infrastructure/config"
	"github.com/nerrad567/incidentdesk/internal/infrastructure/logging"
	"github.com/nerrad567/incidentdesk/internal/notify"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func writeConfig(t *testing.T, port int) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
database:
  path: %q
api:
  host: "127.0.0.1"
  port: %d
security:
  jwt:
    secret: "main-test-secret-0123456789abcdefghij"
  password:
    time: 1
    memory_kib: 1024
    threads: 1
storage:
  root: %q
mail:
  transport: log
  from: "desk@example.com"
logging:
  level: error
  format: text
  output: stderr
admin:
  email: "admin@example.com"
  password: "Adm1n!Password"
`, filepath.Join(dir, "desk.db"), port, filepath.Join(dir, "audio"))

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("INCIDENTDESK_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with a missing config file")
	}
}

func TestRun_MissingSecret(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("database:\n  path: \""+filepath.Join(dir, "x.db")+"\"\n"), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("INCIDENTDESK_CONFIG", path)
	t.Setenv("INCIDENTDESK_JWT_SECRET", "")

	if err := run(context.Background()); err == nil {
		t.Fatal("run() should refuse to start without a signing secret")
	}
}

func TestRun_StartupAndShutdown(t *testing.T) {
	port := freePort(t)
	t.Setenv("INCIDENTDESK_CONFIG", writeConfig(t, port))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/api/v1/health", port)
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Errorf("health status = %d, want 200", resp.StatusCode)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never became ready: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run() error = %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("run() did not return after cancellation")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("INCIDENTDESK_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}
	t.Setenv("INCIDENTDESK_CONFIG", "/etc/incidentdesk.yaml")
	if got := getConfigPath(); got != "/etc/incidentdesk.yaml" {
		t.Errorf("getConfigPath() = %q", got)
	}
}

func TestBuildSender(t *testing.T) {
	log := logging.Discard()
	cfg := config.Default()

	tests := []struct {
		transport string
		wantErr   bool
		check     func(notify.Sender) bool
	}{
		{config.MailTransportLog, false, func(s notify.Sender) bool { _, ok := s.(notify.LogSender); return ok }},
		{config.MailTransportSMTP, false, func(s notify.Sender) bool { _, ok := s.(*notify.SMTPSender); return ok }},
		{config.MailTransportMQTT, true, nil},
		{"pigeon", true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.transport, func(t *testing.T) {
			cfg.Mail.Transport = tt.transport
			s, err := buildSender(cfg, nil, log)
			if (err != nil) != tt.wantErr {
				t.Fatalf("buildSender() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil && !tt.check(s) {
				t.Errorf("buildSender() = %T", s)
			}
		})
	}
}

func TestBuildEventSink_NoIntegrations(t *testing.T) {
	sink, mqttSink := buildEventSink(nil, nil, logging.Discard())
	if mqttSink != nil {
		t.Error("MQTT sink created without a client")
	}
	if sink == nil {
		t.Fatal("buildEventSink() returned nil sink")
	}
}

func TestStartWorkers_DrainOnlyWhenStopped(t *testing.T) {
	queue := make(chan string, 4)
	started := make(chan context.Context, 1)
	var drained []string
	stop := startWorkers(func(ctx context.Context) {
		started <- ctx
		<-ctx.Done()
		for {
			select {
			case item := <-queue:
				drained = append(drained, item)
			default:
				return
			}
		}
	})
	workerCtx := <-started

	// Work queued by requests still in flight during shutdown.
	queue <- "audit-entry"
	queue <- "verification-email"
	if workerCtx.Err() != nil {
		t.Fatal("worker context cancelled before stop")
	}

	stop()

	if len(drained) != 2 {
		t.Fatalf("drained = %v, want both queued entries", drained)
	}
}
