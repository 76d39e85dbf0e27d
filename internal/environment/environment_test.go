package environment

import (
	"path/filepath"
	"testing"

	"github.com/forgerelay/relay/pkg/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	db, err := gorm.Open(sqlite.Open(filepath.Join(dir, "env.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	if err := db.AutoMigrate(&row{}); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return New(db, func() string { return "2026-07-29T00:00:00Z" })
}

func TestCreateAndGet(t *testing.T) {
	s := openTestStore(t)
	env := &types.Environment{
		ID:          "env-1",
		Name:        "default container",
		SandboxType: "container",
		Image:       "relay/agent-base:latest",
		Resources:   types.EnvironmentResources{CPU: "2", MemoryMB: 2048, DiskGB: 10},
		IsDefault:   true,
	}
	if err := s.Create(env); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := s.Get("env-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.IsDefault {
		t.Fatalf("expected IsDefault true")
	}
	if got.Resources.MemoryMB != 2048 {
		t.Fatalf("expected MemoryMB 2048, got %d", got.Resources.MemoryMB)
	}
}

func TestOnlyOneDefaultPerSandboxType(t *testing.T) {
	s := openTestStore(t)

	first := &types.Environment{ID: "env-a", Name: "a", SandboxType: "container", Image: "img-a", IsDefault: true}
	second := &types.Environment{ID: "env-b", Name: "b", SandboxType: "container", Image: "img-b", IsDefault: true}

	if err := s.Create(first); err != nil {
		t.Fatalf("Create first: %v", err)
	}
	if err := s.Create(second); err != nil {
		t.Fatalf("Create second: %v", err)
	}

	gotFirst, err := s.Get("env-a")
	if err != nil {
		t.Fatalf("Get env-a: %v", err)
	}
	gotSecond, err := s.Get("env-b")
	if err != nil {
		t.Fatalf("Get env-b: %v", err)
	}

	if gotFirst.IsDefault {
		t.Fatalf("expected env-a to lose default status when env-b became default")
	}
	if !gotSecond.IsDefault {
		t.Fatalf("expected env-b to be the new default")
	}
}

func TestDefaultIsScopedPerSandboxType(t *testing.T) {
	s := openTestStore(t)

	container := &types.Environment{ID: "env-c", Name: "c", SandboxType: "container", Image: "img-c", IsDefault: true}
	microvm := &types.Environment{ID: "env-v", Name: "v", SandboxType: "microvm", Image: "img-v", IsDefault: true}

	if err := s.Create(container); err != nil {
		t.Fatalf("Create container env: %v", err)
	}
	if err := s.Create(microvm); err != nil {
		t.Fatalf("Create microvm env: %v", err)
	}

	gotContainer, err := s.Get("env-c")
	if err != nil {
		t.Fatalf("Get env-c: %v", err)
	}
	gotMicrovm, err := s.Get("env-v")
	if err != nil {
		t.Fatalf("Get env-v: %v", err)
	}

	if !gotContainer.IsDefault || !gotMicrovm.IsDefault {
		t.Fatalf("expected independent defaults per sandboxType, got container=%v microvm=%v",
			gotContainer.IsDefault, gotMicrovm.IsDefault)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	if err := s.Delete("never-existed"); err != nil {
		t.Fatalf("expected idempotent delete, got %v", err)
	}
}
