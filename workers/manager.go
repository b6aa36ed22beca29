package workers

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"gorm.io/gorm"

	"github.com/tda9/FUACS/config"
	"github.com/tda9/FUACS/ingest"
	"github.com/tda9/FUACS/models"
	"github.com/tda9/FUACS/repository"
)

// Camera entry origins. YAML entries come from the pipeline config file;
// registered entries from the persisted registry (dynamic registration).
// On an id conflict the YAML entry wins.
const (
	SourceYAML       = "yaml"
	SourceRegistered = "registered"
)

type laneEntry struct {
	cam    config.CameraConfig
	source string
}

// CameraStatus is one camera's registry entry plus live lane state, as
// served by the operational API
type CameraStatus struct {
	Camera   config.CameraConfig  `json:"camera"`
	Source   string               `json:"source"`
	State    string               `json:"state"`
	Stats    ingest.StatsSnapshot `json:"stats"`
	QueueLen int                  `json:"queue_len"`
	Disabled string               `json:"disabled_reason,omitempty"`
}

// Manager owns the camera lanes: startup, hot reload diffing, dynamic
// registration, manual restart, and shutdown. A configuration error in one
// camera entry disables that lane only.
type Manager struct {
	deps       LaneDeps
	cameraRepo repository.CameraRepositoryInterface

	mu       sync.Mutex
	pipe     *config.PipelineConfig
	lanes    map[string]*Lane
	sources  map[string]string
	disabled map[string]string
}

// NewManager creates a lane manager. cameraRepo may be nil to disable the
// persistent registry.
func NewManager(deps LaneDeps, cameraRepo repository.CameraRepositoryInterface) *Manager {
	return &Manager{
		deps:       deps,
		cameraRepo: cameraRepo,
		lanes:      make(map[string]*Lane),
		sources:    make(map[string]string),
		disabled:   make(map[string]string),
	}
}

// StartAll starts one lane per camera from the pipeline config merged with
// the persisted registry
func (m *Manager) StartAll(pipe *config.PipelineConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipe = pipe
	for _, entry := range m.mergedCameras(pipe) {
		m.startLaneLocked(entry)
	}
	log.Printf("lane manager: %d lane(s) running, %d disabled", len(m.lanes), len(m.disabled))
}

// Reload applies a new pipeline config. When shared parameters changed every
// lane restarts; otherwise only added, changed, or removed camera entries
// are touched and unchanged cameras keep their decode sessions.
func (m *Manager) Reload(newPipe *config.PipelineConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	oldPipe := m.pipe
	m.pipe = newPipe

	if oldPipe == nil || !oldPipe.SharedEqual(newPipe) {
		log.Println("lane manager: shared pipeline parameters changed, restarting all lanes")
		m.stopAllLocked()
		for _, entry := range m.mergedCameras(newPipe) {
			m.startLaneLocked(entry)
		}
		return
	}

	desired := make(map[string]laneEntry)
	for _, entry := range m.mergedCameras(newPipe) {
		desired[entry.cam.ID] = entry
	}

	// stop removed or changed lanes
	for id, lane := range m.lanes {
		entry, keep := desired[id]
		if keep && entry.cam == lane.Camera() {
			delete(desired, id)
			continue
		}
		lane.Stop()
		delete(m.lanes, id)
		delete(m.sources, id)
		if !keep {
			log.Printf("lane manager: camera %s removed by reload", id)
		}
	}

	// clear stale disable markers so corrected entries get a fresh chance
	m.disabled = make(map[string]string)

	// start new and changed lanes
	for _, entry := range desired {
		m.startLaneLocked(entry)
	}
	log.Printf("lane manager: reload complete, %d lane(s) running, %d disabled", len(m.lanes), len(m.disabled))
}

// RegisterCamera persists a dynamically registered camera and starts its
// lane. Fails when the id collides with an existing camera.
func (m *Manager) RegisterCamera(cam models.Camera) error {
	entry := config.CameraConfig{
		ID:                 cam.ID,
		Name:               cam.Name,
		RTSPURL:            cam.RTSPURL,
		RoomID:             cam.RoomID,
		SamplingIntervalMS: cam.SamplingIntervalMS,
	}
	if err := config.ValidateCamera(entry); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.lanes[cam.ID]; exists {
		return fmt.Errorf("camera %q already exists", cam.ID)
	}
	if _, yamlCam := m.pipe.CameraByID(cam.ID); yamlCam {
		return fmt.Errorf("camera %q is defined in the pipeline config file", cam.ID)
	}

	if m.cameraRepo != nil {
		if err := m.cameraRepo.Create(&cam); err != nil {
			return err
		}
	}
	m.startLaneLocked(laneEntry{cam: entry, source: SourceRegistered})
	return nil
}

// DeregisterCamera tears the lane down and removes the registry row. YAML
// cameras cannot be deregistered; they are removed by editing the config.
func (m *Manager) DeregisterCamera(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sources[id] == SourceYAML {
		return fmt.Errorf("camera %q is defined in the pipeline config file", id)
	}

	lane, ok := m.lanes[id]
	if !ok {
		if _, wasDisabled := m.disabled[id]; !wasDisabled {
			return gorm.ErrRecordNotFound
		}
	} else {
		lane.Stop()
		delete(m.lanes, id)
	}
	delete(m.sources, id)
	delete(m.disabled, id)

	if m.cameraRepo != nil {
		if err := m.cameraRepo.Delete(id); err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
	}
	return nil
}

// RestartCamera recreates a lane from its current entry; the manual path
// for re-opening a FAILED camera
func (m *Manager) RestartCamera(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var entry laneEntry
	found := false
	for _, e := range m.mergedCameras(m.pipe) {
		if e.cam.ID == id {
			entry = e
			found = true
			break
		}
	}
	if !found {
		return gorm.ErrRecordNotFound
	}

	if lane, ok := m.lanes[id]; ok {
		lane.Stop()
		delete(m.lanes, id)
	}
	delete(m.disabled, id)
	m.startLaneLocked(entry)
	if reason, bad := m.disabled[id]; bad {
		return fmt.Errorf("camera %q failed validation: %s", id, reason)
	}
	log.Printf("lane manager: camera %s restarted", id)
	return nil
}

// StopAll tears every lane down (shutdown)
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopAllLocked()
	log.Println("lane manager: all lanes stopped")
}

// Statuses returns every camera (running or disabled) with live state
func (m *Manager) Statuses() []CameraStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	var statuses []CameraStatus
	for id, lane := range m.lanes {
		statuses = append(statuses, CameraStatus{
			Camera:   lane.Camera(),
			Source:   m.sources[id],
			State:    string(lane.State()),
			Stats:    lane.Stats(),
			QueueLen: lane.QueueLen(),
		})
	}
	for _, entry := range m.mergedCameras(m.pipe) {
		if reason, bad := m.disabled[entry.cam.ID]; bad {
			statuses = append(statuses, CameraStatus{
				Camera:   entry.cam,
				Source:   entry.source,
				State:    string(ingest.HealthFailed),
				Disabled: reason,
			})
		}
	}
	return statuses
}

// Status returns one camera's live state
func (m *Manager) Status(id string) (CameraStatus, bool) {
	for _, s := range m.Statuses() {
		if s.Camera.ID == id {
			return s, true
		}
	}
	return CameraStatus{}, false
}

func (m *Manager) startLaneLocked(entry laneEntry) {
	if err := config.ValidateCamera(entry.cam); err != nil {
		// fatal for this lane only; other lanes are unaffected
		log.Printf("lane manager: FATAL config for camera %q, lane disabled: %v", entry.cam.ID, err)
		m.disabled[entry.cam.ID] = err.Error()
		m.sources[entry.cam.ID] = entry.source
		return
	}
	lane := NewLane(entry.cam, m.pipe, m.deps)
	lane.Start()
	m.lanes[entry.cam.ID] = lane
	m.sources[entry.cam.ID] = entry.source
}

func (m *Manager) stopAllLocked() {
	var wg sync.WaitGroup
	for _, lane := range m.lanes {
		wg.Add(1)
		go func(l *Lane) {
			defer wg.Done()
			l.Stop()
		}(lane)
	}
	wg.Wait()
	m.lanes = make(map[string]*Lane)
	m.sources = make(map[string]string)
	m.disabled = make(map[string]string)
}

// mergedCameras combines YAML cameras with the persisted registry; YAML
// wins on id conflict
func (m *Manager) mergedCameras(pipe *config.PipelineConfig) []laneEntry {
	var entries []laneEntry
	seen := make(map[string]bool)
	if pipe != nil {
		for _, cam := range pipe.Cameras {
			entries = append(entries, laneEntry{cam: cam, source: SourceYAML})
			seen[cam.ID] = true
		}
	}
	if m.cameraRepo != nil {
		registered, err := m.cameraRepo.ListAll()
		if err != nil {
			log.Printf("lane manager: ERROR listing registered cameras: %v", err)
			return entries
		}
		for _, cam := range registered {
			if seen[cam.ID] {
				log.Printf("lane manager: registered camera %s shadowed by pipeline config entry", cam.ID)
				continue
			}
			entries = append(entries, laneEntry{
				cam: config.CameraConfig{
					ID:                 cam.ID,
					Name:               cam.Name,
					RTSPURL:            cam.RTSPURL,
					RoomID:             cam.RoomID,
					SamplingIntervalMS: cam.SamplingIntervalMS,
				},
				source: SourceRegistered,
			})
		}
	}
	return entries
}
