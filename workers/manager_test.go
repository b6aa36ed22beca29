package workers

import (
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/tda9/FUACS/config"
	"github.com/tda9/FUACS/ingest"
	"github.com/tda9/FUACS/models"
	"github.com/tda9/FUACS/services"
)

const managerTestYAML = `
ingest:
  frame_queue_size: 2
  reconnect_base_delay_ms: 1
  max_consecutive_failures: 1
cameras:
  - id: cam-1
    rtsp_url: rtsp://host/1
    room_id: room-101
  - id: cam-2
    rtsp_url: rtsp://host/2
    room_id: room-102
`

// unreachableOpener always fails, so lanes park in FAILED immediately
// (failure budget of 1 in the test config)
func unreachableOpener(source string) (ingest.Capture, error) {
	return nil, errors.New("connection refused")
}

func testManager(t *testing.T, yaml string) (*Manager, *config.PipelineConfig) {
	t.Helper()
	pipe, err := config.ParsePipelineConfig([]byte(yaml))
	if err != nil {
		t.Fatalf("ParsePipelineConfig returned error: %v", err)
	}
	deps := LaneDeps{
		Enrollment: services.NewEnrollmentStore(nil, nil),
		Open:       unreachableOpener,
	}
	m := NewManager(deps, nil)
	m.StartAll(pipe)
	t.Cleanup(m.StopAll)
	return m, pipe
}

func statusByID(statuses []CameraStatus, id string) (CameraStatus, bool) {
	for _, s := range statuses {
		if s.Camera.ID == id {
			return s, true
		}
	}
	return CameraStatus{}, false
}

func TestManagerStartAll(t *testing.T) {
	m, _ := testManager(t, managerTestYAML)

	statuses := m.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("len(Statuses()) = %d, want 2", len(statuses))
	}
	for _, id := range []string{"cam-1", "cam-2"} {
		s, ok := statusByID(statuses, id)
		if !ok {
			t.Fatalf("camera %s missing from statuses", id)
		}
		if s.Source != SourceYAML {
			t.Errorf("camera %s source = %q, want yaml", id, s.Source)
		}
	}
	if _, ok := m.Status("cam-9"); ok {
		t.Error("Status returned an unknown camera")
	}
}

func TestManagerYAMLCameraCannotBeDeregistered(t *testing.T) {
	m, _ := testManager(t, managerTestYAML)
	if err := m.DeregisterCamera("cam-1"); err == nil {
		t.Fatal("deregistering a pipeline-config camera must fail")
	}
}

func TestManagerRegisterCamera(t *testing.T) {
	m, _ := testManager(t, managerTestYAML)

	cam := models.Camera{ID: "cam-3", RTSPURL: "rtsp://host/3", RoomID: "room-103"}
	if err := m.RegisterCamera(cam); err != nil {
		t.Fatalf("RegisterCamera returned error: %v", err)
	}
	s, ok := m.Status("cam-3")
	if !ok || s.Source != SourceRegistered {
		t.Fatalf("status after register = (%+v, %v), want a registered lane", s, ok)
	}

	if err := m.RegisterCamera(cam); err == nil {
		t.Error("duplicate registration must fail")
	}
	if err := m.RegisterCamera(models.Camera{ID: "cam-1", RTSPURL: "rtsp://x", RoomID: "r"}); err == nil {
		t.Error("registering over a pipeline-config id must fail")
	}
	if err := m.RegisterCamera(models.Camera{ID: "cam-4"}); err == nil {
		t.Error("registering an invalid camera must fail validation")
	}

	if err := m.DeregisterCamera("cam-3"); err != nil {
		t.Fatalf("DeregisterCamera returned error: %v", err)
	}
	if _, ok := m.Status("cam-3"); ok {
		t.Error("deregistered camera still reported")
	}
	if err := m.DeregisterCamera("cam-3"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("second deregister = %v, want ErrRecordNotFound", err)
	}
}

func TestManagerReloadDiffsCameraList(t *testing.T) {
	m, pipe := testManager(t, managerTestYAML)

	newPipe := *pipe
	newPipe.Cameras = []config.CameraConfig{
		pipe.Cameras[0], // cam-1 unchanged
		{ID: "cam-4", RTSPURL: "rtsp://host/4", RoomID: "room-104"},
	}
	m.Reload(&newPipe)

	statuses := m.Statuses()
	if _, ok := statusByID(statuses, "cam-2"); ok {
		t.Error("cam-2 still running after being removed by reload")
	}
	if _, ok := statusByID(statuses, "cam-4"); !ok {
		t.Error("cam-4 not started by reload")
	}
	if _, ok := statusByID(statuses, "cam-1"); !ok {
		t.Error("unchanged cam-1 lost by reload")
	}
}

func TestManagerReloadSharedChangeRestartsAll(t *testing.T) {
	m, pipe := testManager(t, managerTestYAML)

	newPipe := *pipe
	newPipe.Matching.Threshold = 0.8
	m.Reload(&newPipe)

	statuses := m.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("len(Statuses()) after shared-change reload = %d, want 2", len(statuses))
	}
}

func TestManagerDisablesInvalidLaneOnly(t *testing.T) {
	// cam-2 has no rtsp_url: a lane-fatal entry that must not take cam-1 down
	yaml := `
ingest:
  frame_queue_size: 2
  reconnect_base_delay_ms: 1
  max_consecutive_failures: 1
cameras:
  - id: cam-1
    rtsp_url: rtsp://host/1
    room_id: room-101
  - id: cam-2
    room_id: room-102
`
	m, _ := testManager(t, yaml)

	statuses := m.Statuses()
	if len(statuses) != 2 {
		t.Fatalf("len(Statuses()) = %d, want both cameras visible", len(statuses))
	}

	bad, ok := statusByID(statuses, "cam-2")
	if !ok {
		t.Fatal("disabled camera missing from statuses")
	}
	if bad.State != string(ingest.HealthFailed) || bad.Disabled == "" {
		t.Errorf("disabled camera status = %+v, want FAILED with a reason", bad)
	}
	if _, ok := statusByID(statuses, "cam-1"); !ok {
		t.Error("valid camera missing from statuses")
	}
}

func TestManagerRestartCamera(t *testing.T) {
	m, _ := testManager(t, managerTestYAML)

	if err := m.RestartCamera("cam-1"); err != nil {
		t.Fatalf("RestartCamera returned error: %v", err)
	}
	if _, ok := m.Status("cam-1"); !ok {
		t.Error("camera missing after restart")
	}
	if err := m.RestartCamera("cam-9"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("restart of unknown camera = %v, want ErrRecordNotFound", err)
	}
}
