package influxdb_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/incidentdesk/internal/infrastructure/config"
	"github.com/nerrad567/incidentdesk/internal/infrastructure/influxdb"
)

func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "incidentdesk-dev-token",
		Org:           "incidentdesk",
		Bucket:        "incidents",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func skipIfNoInfluxDB(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		t.Skip("set RUN_INTEGRATION to run against a local InfluxDB")
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	if _, err := influxdb.Connect(cfg); !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestNilClientIsDisconnected(t *testing.T) {
	var c *influxdb.Client
	if c.IsConnected() {
		t.Error("nil client reports connected")
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	// Must not panic.
	c.WriteIncidentEvent(influxdb.IncidentEvent{IncidentID: "inc-1"})
}

func TestNewIncidentPoint(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := influxdb.NewIncidentPoint(influxdb.IncidentEvent{
		IncidentID:   "inc-1",
		OwnerID:      "usr-9",
		Kind:         "solution_attached",
		Status:       "resolved",
		Resolved:     true,
		SinceCreated: 90 * time.Second,
		At:           at,
	})

	line := write.PointToLineProtocol(p, time.Second)
	for _, want := range []string{
		"incident_event,",
		"kind=solution_attached",
		"owner_id=usr-9",
		"status=resolved",
		`incident_id="inc-1"`,
		"resolved=true",
		"since_created=90",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line protocol %q missing %q", line, want)
		}
	}
	if !strings.HasSuffix(strings.TrimSpace(line), "1772366400") {
		t.Errorf("line protocol %q has wrong timestamp", line)
	}
}

func TestNewIncidentPoint_DefaultsTime(t *testing.T) {
	before := time.Now()
	p := influxdb.NewIncidentPoint(influxdb.IncidentEvent{IncidentID: "inc-1", Kind: "created"})
	if p.Time().Before(before) {
		t.Errorf("Time() = %v, want >= %v", p.Time(), before)
	}
}

func TestWriteIncidentEvent(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influxdb.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	var mu sync.Mutex
	var writeErr error
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})

	client.WriteIncidentEvent(influxdb.IncidentEvent{IncidentID: "inc-test", Kind: "created", Status: "initiated"})
	client.Flush()
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		t.Errorf("write error = %v", writeErr)
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}
}
