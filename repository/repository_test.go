package repository

import (
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tda9/FUACS/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	err = db.AutoMigrate(
		&models.Camera{},
		&models.AttendanceEvent{},
		&models.ReferenceEmbedding{},
		&models.HealthEvent{},
	)
	if err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func TestCameraRepositoryCRUD(t *testing.T) {
	repo := NewCameraRepository(setupTestDB(t))

	cam := &models.Camera{ID: "cam-1", Name: "Room 101 front", RTSPURL: "rtsp://host/1", RoomID: "room-101"}
	if err := repo.Create(cam); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if cam.CreatedAt == 0 {
		t.Error("Create did not stamp created_at")
	}

	got, err := repo.GetByID("cam-1")
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if got.RTSPURL != "rtsp://host/1" {
		t.Errorf("RTSPURL = %q, want rtsp://host/1", got.RTSPURL)
	}

	got.RoomID = "room-102"
	if err := repo.Update(got); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	updated, _ := repo.GetByID("cam-1")
	if updated.RoomID != "room-102" {
		t.Errorf("RoomID after update = %q, want room-102", updated.RoomID)
	}

	all, err := repo.ListAll()
	if err != nil || len(all) != 1 {
		t.Fatalf("ListAll = (%v, %v), want one camera", all, err)
	}

	if err := repo.Delete("cam-1"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if err := repo.Delete("cam-1"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("Delete of missing camera = %v, want ErrRecordNotFound", err)
	}
	if _, err := repo.GetByID("cam-1"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("GetByID of deleted camera = %v, want ErrRecordNotFound", err)
	}
}

func TestEventRepositorySpoolLifecycle(t *testing.T) {
	repo := NewEventRepository(setupTestDB(t))

	ev1 := &models.AttendanceEvent{EventUUID: "ev-1", IdentityID: "alice", CameraID: "cam-1", RoomID: "r", Timestamp: 100}
	ev2 := &models.AttendanceEvent{EventUUID: "ev-2", IdentityID: "bob", CameraID: "cam-2", RoomID: "r", Timestamp: 200}
	for _, ev := range []*models.AttendanceEvent{ev1, ev2} {
		if err := repo.Create(ev); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
		if ev.Status != models.EventStatusPending {
			t.Errorf("new event status = %q, want pending", ev.Status)
		}
	}

	depth, err := repo.CountPending()
	if err != nil || depth != 2 {
		t.Fatalf("CountPending = (%d, %v), want 2", depth, err)
	}

	if err := repo.RecordAttempt(ev1.ID, 3, "connection refused"); err != nil {
		t.Fatalf("RecordAttempt returned error: %v", err)
	}
	stored, err := repo.GetByUUID("ev-1")
	if err != nil {
		t.Fatalf("GetByUUID returned error: %v", err)
	}
	if stored.Attempts != 3 || stored.LastError == nil || *stored.LastError != "connection refused" {
		t.Errorf("after RecordAttempt: attempts=%d lastError=%v", stored.Attempts, stored.LastError)
	}
	if stored.Status != models.EventStatusPending {
		t.Errorf("failed attempt changed status to %q, want still pending", stored.Status)
	}

	if err := repo.MarkDelivered(ev1.ID, 12345); err != nil {
		t.Fatalf("MarkDelivered returned error: %v", err)
	}
	delivered, _ := repo.GetByUUID("ev-1")
	if delivered.Status != models.EventStatusDelivered || delivered.DeliveredAt == nil || *delivered.DeliveredAt != 12345 {
		t.Errorf("after MarkDelivered: %+v", delivered)
	}
	if delivered.LastError != nil {
		t.Error("MarkDelivered did not clear last_error")
	}

	pending, err := repo.ListPending(0)
	if err != nil {
		t.Fatalf("ListPending returned error: %v", err)
	}
	if len(pending) != 1 || pending[0].EventUUID != "ev-2" {
		t.Errorf("pending = %+v, want only ev-2", pending)
	}

	if err := repo.MarkDelivered(9999, 1); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("MarkDelivered of missing row = %v, want ErrRecordNotFound", err)
	}
}

func TestEventRepositoryListFilters(t *testing.T) {
	repo := NewEventRepository(setupTestDB(t))

	events := []*models.AttendanceEvent{
		{EventUUID: "ev-1", IdentityID: "alice", CameraID: "cam-1", RoomID: "r", Timestamp: 100},
		{EventUUID: "ev-2", IdentityID: "bob", CameraID: "cam-1", RoomID: "r", Timestamp: 200},
		{EventUUID: "ev-3", IdentityID: "alice", CameraID: "cam-2", RoomID: "r", Timestamp: 300},
	}
	for _, ev := range events {
		if err := repo.Create(ev); err != nil {
			t.Fatal(err)
		}
	}
	if err := repo.MarkDelivered(events[0].ID, 1); err != nil {
		t.Fatal(err)
	}

	byCamera, err := repo.List(EventListOptions{CameraID: "cam-1"})
	if err != nil || len(byCamera) != 2 {
		t.Fatalf("List by camera = (%d, %v), want 2", len(byCamera), err)
	}
	// default order is newest first
	if byCamera[0].EventUUID != "ev-2" {
		t.Errorf("first = %s, want ev-2 (newest)", byCamera[0].EventUUID)
	}

	byIdentity, err := repo.List(EventListOptions{IdentityID: "alice", Status: models.EventStatusPending})
	if err != nil || len(byIdentity) != 1 || byIdentity[0].EventUUID != "ev-3" {
		t.Fatalf("List by identity+status = %+v (%v), want only ev-3", byIdentity, err)
	}

	limited, err := repo.List(EventListOptions{Limit: 1, Offset: 1})
	if err != nil || len(limited) != 1 || limited[0].EventUUID != "ev-2" {
		t.Fatalf("List with limit/offset = %+v (%v), want ev-2", limited, err)
	}

	// unknown sort keys fall back to newest-first instead of erroring
	if _, err := repo.List(EventListOptions{Sort: "nope; DROP TABLE"}); err != nil {
		t.Errorf("List with unknown sort = %v, want fallback, not error", err)
	}
}

func TestEventRepositoryDeleteDeliveredBefore(t *testing.T) {
	repo := NewEventRepository(setupTestDB(t))

	old := &models.AttendanceEvent{EventUUID: "ev-old", IdentityID: "a", CameraID: "c", RoomID: "r"}
	recent := &models.AttendanceEvent{EventUUID: "ev-new", IdentityID: "a", CameraID: "c", RoomID: "r"}
	pending := &models.AttendanceEvent{EventUUID: "ev-pending", IdentityID: "a", CameraID: "c", RoomID: "r"}
	for _, ev := range []*models.AttendanceEvent{old, recent, pending} {
		if err := repo.Create(ev); err != nil {
			t.Fatal(err)
		}
	}
	repo.MarkDelivered(old.ID, 100)
	repo.MarkDelivered(recent.ID, 900)

	pruned, err := repo.DeleteDeliveredBefore(500)
	if err != nil || pruned != 1 {
		t.Fatalf("DeleteDeliveredBefore = (%d, %v), want 1 pruned", pruned, err)
	}
	// the pending row is never pruned, whatever its age
	if _, err := repo.GetByUUID("ev-pending"); err != nil {
		t.Errorf("pending row pruned: %v", err)
	}
}

func TestEnrollmentRepositoryReplaceSnapshot(t *testing.T) {
	repo := NewEnrollmentRepository(setupTestDB(t))

	first := models.ReferenceEmbedding{IdentityID: "alice", Active: true}
	first.SetEmbedding([]float32{0.25, -1.5, 3})
	second := models.ReferenceEmbedding{IdentityID: "bob", Active: false}
	second.SetEmbedding([]float32{1, 2})

	if err := repo.ReplaceSnapshot([]models.ReferenceEmbedding{first, second}); err != nil {
		t.Fatalf("ReplaceSnapshot returned error: %v", err)
	}

	refs, err := repo.ListAll()
	if err != nil || len(refs) != 2 {
		t.Fatalf("ListAll = (%d, %v), want 2", len(refs), err)
	}
	vec := refs[0].GetEmbedding()
	if len(vec) != 3 || vec[0] != 0.25 || vec[1] != -1.5 || vec[2] != 3 {
		t.Errorf("embedding round-trip = %v, want [0.25 -1.5 3]", vec)
	}

	// a replace fully supersedes the previous snapshot
	replacement := models.ReferenceEmbedding{IdentityID: "carol", Active: true}
	replacement.SetEmbedding([]float32{9})
	if err := repo.ReplaceSnapshot([]models.ReferenceEmbedding{replacement}); err != nil {
		t.Fatalf("second ReplaceSnapshot returned error: %v", err)
	}
	refs, _ = repo.ListAll()
	if len(refs) != 1 || refs[0].IdentityID != "carol" {
		t.Errorf("after replace: %+v, want only carol", refs)
	}

	// an empty snapshot clears the cache
	if err := repo.ReplaceSnapshot(nil); err != nil {
		t.Fatalf("empty ReplaceSnapshot returned error: %v", err)
	}
	refs, _ = repo.ListAll()
	if len(refs) != 0 {
		t.Errorf("after empty replace: %d rows, want 0", len(refs))
	}
}

func TestHealthRepositoryJournal(t *testing.T) {
	repo := NewHealthRepository(setupTestDB(t))

	transitions := []models.HealthEvent{
		{CameraID: "cam-1", State: "CONNECTED", Timestamp: 100},
		{CameraID: "cam-1", State: "RECONNECTING", Detail: "decode session lost", Timestamp: 200},
		{CameraID: "cam-1", State: "CONNECTED", Timestamp: 300},
		{CameraID: "cam-2", State: "FAILED", Detail: "connection refused", Timestamp: 250},
	}
	for i := range transitions {
		if err := repo.Create(&transitions[i]); err != nil {
			t.Fatalf("Create returned error: %v", err)
		}
	}

	recent, err := repo.ListRecentByCamera("cam-1", 2)
	if err != nil {
		t.Fatalf("ListRecentByCamera returned error: %v", err)
	}
	if len(recent) != 2 || recent[0].Timestamp != 300 || recent[1].Timestamp != 200 {
		t.Errorf("recent = %+v, want the two newest cam-1 transitions", recent)
	}

	latest, err := repo.LatestByCamera()
	if err != nil {
		t.Fatalf("LatestByCamera returned error: %v", err)
	}
	if latest["cam-1"].State != "CONNECTED" || latest["cam-2"].State != "FAILED" {
		t.Errorf("latest = %+v", latest)
	}
}
