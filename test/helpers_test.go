//go:build integration

package test

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/stampauth"
	"github.com/MrEthical07/stampauth/store/memory"
	"github.com/MrEthical07/stampauth/store/postgres"
	"github.com/MrEthical07/stampauth/store/redisstore"
)

const testPassword = "correct-horse-42"

// backend is a store under test. The engine needs both interfaces.
type backend interface {
	stampauth.CredentialStore
	stampauth.FailedAttemptRecorder
	stampauth.TenantProvisioner
}

type backendMode struct {
	name  string
	setup func(t *testing.T) backend
}

// backendModes returns every store available in this environment. memory and
// miniredis always run; a real Redis runs when REDIS_ADDR is set and
// PostgreSQL when STAMPAUTH_TEST_POSTGRES_DSN is set.
func backendModes(t *testing.T) []backendMode {
	t.Helper()
	modes := []backendMode{
		{name: "memory", setup: func(*testing.T) backend { return memory.New() }},
		{name: "miniredis", setup: func(t *testing.T) backend {
			t.Helper()
			mr, err := miniredis.Run()
			if err != nil {
				t.Fatalf("miniredis: %v", err)
			}
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close(); mr.Close() })
			return redisstore.New(rdb, "sa-it")
		}},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, backendMode{name: "redis:" + addr, setup: func(t *testing.T) backend {
			t.Helper()
			rdb := redis.NewClient(&redis.Options{Addr: addr})
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := rdb.Ping(ctx).Err(); err != nil {
				t.Skipf("cannot connect to Redis at %s: %v", addr, err)
			}
			rdb.FlushDB(context.Background())
			t.Cleanup(func() { rdb.FlushDB(context.Background()); _ = rdb.Close() })
			return redisstore.New(rdb, "sa-it")
		}})
	}

	if dsn := os.Getenv("STAMPAUTH_TEST_POSTGRES_DSN"); dsn != "" {
		modes = append(modes, backendMode{name: "postgres", setup: func(t *testing.T) backend {
			t.Helper()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			db, err := postgres.Open(ctx, dsn)
			if err != nil {
				t.Skipf("cannot connect to PostgreSQL: %v", err)
			}
			if _, err := db.ExecContext(ctx, "TRUNCATE credentials, tenants"); err != nil {
				t.Fatalf("truncate: %v", err)
			}
			t.Cleanup(func() { _ = db.Close() })
			return postgres.New(db)
		}})
	}

	return modes
}

type recorder struct {
	ch chan map[string]string
}

func (r *recorder) Emit(_ context.Context, _ string, payload map[string]string) {
	select {
	case r.ch <- payload:
	default:
	}
}

func newEngine(t *testing.T, store backend, notifiers ...stampauth.Notifier) *stampauth.Engine {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	cfg := stampauth.DefaultConfig()
	cfg.JWT.PrivateKey, cfg.JWT.PublicKey = priv, pub
	cfg.Cipher.Key = bytes.Repeat([]byte{3}, 32)
	cfg.Links.RecoveryURL = "https://app.example.com/reset"
	cfg.Links.VerificationURL = "https://app.example.com/verify"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	b := stampauth.New().WithConfig(cfg).WithStore(store).WithTenantProvisioner(store)
	for _, n := range notifiers {
		b = b.WithNotifier(n)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}
