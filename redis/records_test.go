package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/kbukum/regd/logger"
)

// newTestClient creates a redis.Client backed by miniredis for testing.
func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mini, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(func() { mini.Close() })

	client, err := New(Config{Addr: mini.Addr()}, logger.NewNop())
	if err != nil {
		t.Fatalf("failed to create redis client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client, mini
}

type presence struct {
	NodeID  string `json:"nodeId"`
	Version uint64 `json:"version"`
}

func TestRecords_PutGet(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewRecords[presence](client, "peers")
	ctx := context.Background()

	if err := store.Put(ctx, "node-a", presence{NodeID: "node-a", Version: 5}, 0); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := store.Get(ctx, "node-a")
	if err != nil || !ok || got.NodeID != "node-a" || got.Version != 5 {
		t.Fatalf("Get = %+v, %v, %v", got, ok, err)
	}

	if _, ok, err := store.Get(ctx, "node-z"); err != nil || ok {
		t.Fatalf("missing record: ok=%v err=%v", ok, err)
	}
}

func TestRecords_Delete(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewRecords[presence](client, "peers")
	ctx := context.Background()

	store.Put(ctx, "node-a", presence{NodeID: "node-a"}, 0)
	if err := store.Delete(ctx, "node-a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "node-a"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "node-a"); ok {
		t.Fatal("record survived Delete")
	}
}

func TestRecords_Expire(t *testing.T) {
	client, mini := newTestClient(t)
	store := NewRecords[presence](client, "peers")
	ctx := context.Background()

	if err := store.Put(ctx, "node-a", presence{NodeID: "node-a"}, 2*time.Second); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ttl := mini.TTL("peers:node-a"); ttl != 2*time.Second {
		t.Errorf("TTL = %v", ttl)
	}
	mini.FastForward(3 * time.Second)
	if _, ok, err := store.Get(ctx, "node-a"); err != nil || ok {
		t.Fatalf("expected expired record, ok=%v err=%v", ok, err)
	}
}

func TestRecords_All(t *testing.T) {
	client, mini := newTestClient(t)
	store := NewRecords[presence](client, "regd:peers")
	ctx := context.Background()

	if all, err := store.All(ctx); err != nil || len(all) != 0 {
		t.Fatalf("empty namespace: %v, %v", all, err)
	}

	store.Put(ctx, "node-a", presence{NodeID: "node-a", Version: 1}, 0)
	store.Put(ctx, "node-b", presence{NodeID: "node-b", Version: 2}, 0)
	mini.Set("regd:other:node-c", `{"nodeId":"node-c"}`)

	all, err := store.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 2 || all["node-b"].Version != 2 || all["node-a"].NodeID != "node-a" {
		t.Fatalf("All = %v", all)
	}
}

func TestRecords_AllCorrupt(t *testing.T) {
	client, mini := newTestClient(t)
	store := NewRecords[presence](client, "peers")
	mini.Set("peers:broken", "{not json")

	if _, err := store.All(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestClient_PublishSubscribe(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	sub, err := client.Subscribe(ctx, "regd.replication")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	n, err := client.Publish(ctx, "regd.replication", []byte("hello"))
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Publish reached %d subscribers, want 1", n)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Payload != "hello" {
			t.Errorf("Payload = %q", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"negative dial timeout", Config{DialTimeout: -time.Second}, true},
		{"idle above pool", Config{PoolSize: 2, MinIdleConns: 4}, true},
		{"negative db", Config{DB: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.ApplyDefaults()
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
