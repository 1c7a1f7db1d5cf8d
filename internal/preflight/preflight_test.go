package preflight

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"

	"flowscribe/internal/storage"
	"flowscribe/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckFreeSpace(t *testing.T) {
	dir := t.TempDir()
	if result := CheckFreeSpace("free", dir, 1); !result.Passed {
		t.Fatalf("expected pass with a 1 byte floor, got: %s", result.Detail)
	}
	if result := CheckFreeSpace("free", dir, ^uint64(0)); result.Passed {
		t.Fatal("expected failure with an impossible floor")
	}
	if result := CheckFreeSpace("free", filepath.Join(dir, "missing"), 1); result.Passed {
		t.Fatal("expected failure for a missing path")
	}
}

func TestCheckDatabase(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t, testsupport.WithQuota(64))

	if result := CheckDatabase(ctx, cfg); !result.Passed || !strings.Contains(result.Detail, "not created yet") {
		t.Fatalf("expected missing database to pass, got %+v", result)
	}
	if _, err := os.Stat(cfg.DatabasePath()); !os.IsNotExist(err) {
		t.Fatal("expected the check not to create the database")
	}

	db := testsupport.MustOpenStorage(t, cfg)
	if err := db.SetItem(ctx, storage.KeyGlobal, `{"a":1}`); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	if result := CheckDatabase(ctx, cfg); !result.Passed {
		t.Fatalf("expected database under quota to pass, got %+v", result)
	}

	cfg.Storage.QuotaBytes = 10
	if result := CheckDatabase(ctx, cfg); result.Passed || !strings.HasSuffix(result.Detail, "full") {
		t.Fatalf("expected full database to fail, got %+v", result)
	}
}

func TestCheckAPIBind(t *testing.T) {
	ctx := context.Background()
	if result := CheckAPIBind(ctx, "127.0.0.1:0"); !result.Passed {
		t.Fatalf("expected ephemeral port to be available, got %s", result.Detail)
	}

	daemonLike := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer daemonLike.Close()
	bind := daemonLike.Listener.Addr().String()
	if result := CheckAPIBind(ctx, bind); !result.Passed || !strings.Contains(result.Detail, "daemon running") {
		t.Fatalf("expected running daemon to pass, got %+v", result)
	}

	other, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer other.Close()
	go func() {
		for {
			conn, err := other.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	if result := CheckAPIBind(ctx, other.Addr().String()); result.Passed {
		t.Fatal("expected a foreign listener to fail the check")
	}
}

func TestCheckNtfy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/private" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if result := CheckNtfy(context.Background(), srv.URL+"/flowscribe"); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	result := CheckNtfy(context.Background(), srv.URL+"/private")
	if result.Passed || !strings.Contains(result.Detail, "auth failed") {
		t.Fatalf("expected auth failure, got %+v", result)
	}
}

func TestRunAllSkipsUnsetFeatures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	cfg.Paths.APIBind = ""

	results := RunAll(context.Background(), cfg)
	for _, r := range results {
		if r.Name == "ntfy" || r.Name == "API address" {
			t.Fatalf("unexpected check %q for unset feature", r.Name)
		}
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("expected fresh config to pass, failed: %+v", failed)
	}
}

func TestProbeDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	if probe := ProbeDaemon(cfg); probe.Running || probe.Err != nil {
		t.Fatalf("expected no daemon without a lock file, got %+v", probe)
	}

	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil || !ok {
		t.Fatalf("TryLock: %v %v", ok, err)
	}
	if probe := ProbeDaemon(cfg); !probe.Running {
		t.Fatalf("expected held lock to report a running daemon, got %s", probe.Detail())
	}
	if err := lock.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	if probe := ProbeDaemon(cfg); probe.Running {
		t.Fatal("expected released lock to report no daemon")
	}
}
