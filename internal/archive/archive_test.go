package archive

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "arch")
	cases := []struct {
		cfg  Config
		want Driver
	}{
		{Config{FSRoot: root}, DriverFilesystem},
		{Config{Driver: DriverFilesystem, FSRoot: root}, DriverFilesystem},
		{Config{Driver: DriverMemory}, DriverMemory},
	}
	for _, c := range cases {
		a, err := Open(ctx, c.cfg)
		if err != nil {
			t.Fatalf("open %+v: %v", c.cfg, err)
		}
		if a.Driver() != c.want {
			t.Fatalf("expected %s, got %s", c.want, a.Driver())
		}
	}
	if _, err := Open(ctx, Config{Driver: "tape"}); err == nil || !strings.Contains(err.Error(), "unknown archive driver") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
	if _, err := Open(ctx, Config{Driver: DriverS3}); err == nil {
		t.Fatalf("expected s3 without bucket to fail")
	}
}

func TestBackendsShareSemantics(t *testing.T) {
	ctx := context.Background()
	backends := map[string]Archive{
		"memory": NewMemory(),
		"s3":     NewMockS3ForTests(),
	}
	fs, err := Open(ctx, Config{Driver: DriverFilesystem, FSRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	backends["fs"] = fs
	for name, a := range backends {
		if _, err := a.Put(ctx, "checkpoints/x.json", strings.NewReader("{}"), PutOptions{ContentType: "application/json"}); err != nil {
			t.Fatalf("%s put: %v", name, err)
		}
		if _, err := a.Put(ctx, "checkpoints/x.json", strings.NewReader("{}"), PutOptions{}); !IsAlreadyExists(err) {
			t.Fatalf("%s: expected create-only conflict, got %v", name, err)
		}
		if _, err := a.Stat(ctx, "checkpoints/missing.json"); !IsNotFound(err) {
			t.Fatalf("%s: expected not found, got %v", name, err)
		}
		list, err := a.List(ctx, "checkpoints/")
		if err != nil || len(list) != 1 {
			t.Fatalf("%s: list %v %v", name, list, err)
		}
	}
}
