package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/kbukum/regd/errors"
)

type recorder struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (r *recorder) listen(ev ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) all() []ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ChangeEvent(nil), r.events...)
}

func TestApplyRemoteUpdateValidation(t *testing.T) {
	reg, _ := newTestRegistry(t)
	tests := []struct {
		name   string
		inst   Instance
		action ActionType
		origin string
		code   errors.ErrorCode
	}{
		{"missing origin", inst("orders", "i-1"), ActionAdded, "", errors.ErrCodeMalformedInput},
		{"unknown action", inst("orders", "i-1"), "RENAMED", "node-b", errors.ErrCodeMalformedInput},
		{"invalid instance", Instance{ServiceName: "orders", InstanceID: "i-1"}, ActionAdded, "node-b", errors.ErrCodeMalformedInput},
		{"delete without key", Instance{ServiceName: "orders"}, ActionDeleted, "node-b", errors.ErrCodeMalformedInput},
		{"own change", inst("orders", "i-1"), ActionAdded, "node-a", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.ApplyRemoteUpdate(tt.inst, tt.action, tt.origin)
			if tt.code == "" {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			if !errors.HasCode(err, tt.code) {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}
	if reg.Version() != 0 {
		t.Error("rejected or self-originated updates must not change the registry")
	}
}

func TestRemoteRecordsAreOwnedByOrigin(t *testing.T) {
	reg, fc := newTestRegistry(t, noPreservation)
	if err := reg.ApplyRemoteUpdate(inst("orders", "r-1"), ActionAdded, "node-b"); err != nil {
		t.Fatal(err)
	}
	got, ok := reg.GetInstance("orders", "r-1")
	if !ok || got.Origin != "node-b" {
		t.Fatalf("remote record = %+v, %v", got, ok)
	}

	res := reg.Sweep(fc.Advance(time.Hour))
	if len(res.Expired) != 0 {
		t.Errorf("peer-owned leases are not swept locally: %+v", res)
	}

	if err := reg.ApplyRemoteUpdate(Instance{ServiceName: "orders", InstanceID: "r-1"}, ActionDeleted, "node-c"); err != nil {
		t.Fatal(err)
	}
	if _, ok := reg.GetInstance("orders", "r-1"); !ok {
		t.Error("a different peer must not delete the record")
	}
	if err := reg.ApplyRemoteUpdate(Instance{ServiceName: "orders", InstanceID: "r-1"}, ActionDeleted, "node-b"); err != nil {
		t.Fatal(err)
	}
	if _, ok := reg.GetInstance("orders", "r-1"); ok {
		t.Error("owner's delete should remove the record")
	}
}

func TestRemoteUpdateDoesNotClobberLiveLocalRecord(t *testing.T) {
	reg, fc := newTestRegistry(t)
	mustRegister(t, reg, inst("orders", "i-1"), 10*time.Second)
	v := reg.Version()

	remote := inst("orders", "i-1")
	remote.Host = "10.9.9.9"
	if err := reg.ApplyRemoteUpdate(remote, ActionModified, "node-b"); err != nil {
		t.Fatal(err)
	}
	got, _ := reg.GetInstance("orders", "i-1")
	if got.Host != "10.0.0.1" || got.Origin != "" || reg.Version() != v {
		t.Fatalf("live local record was overwritten: %+v", got)
	}

	_ = reg.ApplyRemoteUpdate(Instance{ServiceName: "orders", InstanceID: "i-1"}, ActionDeleted, "node-b")
	if _, ok := reg.GetInstance("orders", "i-1"); !ok {
		t.Fatal("peer deleted a local record")
	}

	fc.Advance(31 * time.Second)
	if err := reg.ApplyRemoteUpdate(remote, ActionModified, "node-b"); err != nil {
		t.Fatal(err)
	}
	got, _ = reg.GetInstance("orders", "i-1")
	if got.Host != "10.9.9.9" || got.Origin != "node-b" {
		t.Errorf("expired local record should yield to the peer: %+v", got)
	}
}

func TestOnLocalChange(t *testing.T) {
	reg, _ := newTestRegistry(t)
	rec := &recorder{}
	unsubscribe := reg.OnLocalChange(rec.listen)

	mustRegister(t, reg, inst("orders", "i-1"), 0)
	_, _ = reg.SetStatus("orders", "i-1", StatusDown)
	reg.Renew("orders", "i-1")
	reg.Cancel("orders", "i-1")
	_ = reg.ApplyRemoteUpdate(inst("orders", "r-1"), ActionAdded, "node-b")

	events := rec.all()
	wantActions := []ActionType{ActionAdded, ActionModified, ActionDeleted}
	if len(events) != len(wantActions) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(wantActions), events)
	}
	for i, ev := range events {
		if ev.Action != wantActions[i] || ev.NodeID != "node-a" || ev.Version != uint64(i+1) {
			t.Errorf("event %d = %+v", i, ev)
		}
	}

	unsubscribe()
	unsubscribe()
	mustRegister(t, reg, inst("orders", "i-2"), 0)
	if len(rec.all()) != len(wantActions) {
		t.Error("listener still called after unsubscribe")
	}
}

func TestOnChangeIncludesRemote(t *testing.T) {
	reg, _ := newTestRegistry(t)
	rec := &recorder{}
	unsubscribe := reg.OnChange(rec.listen)
	defer unsubscribe()

	mustRegister(t, reg, inst("orders", "i-1"), 0)
	if err := reg.ApplyRemoteUpdate(inst("orders", "r-1"), ActionAdded, "node-b"); err != nil {
		t.Fatal(err)
	}
	_ = reg.ApplyRemoteUpdate(inst("orders", "r-1"), ActionDeleted, "node-b")

	events := rec.all()
	want := []struct {
		action ActionType
		node   string
	}{
		{ActionAdded, "node-a"},
		{ActionAdded, "node-b"},
		{ActionDeleted, "node-b"},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %+v", len(events), len(want), events)
	}
	for i, w := range want {
		if events[i].Action != w.action || events[i].NodeID != w.node || events[i].Version != uint64(i+1) {
			t.Errorf("event %d = %+v, want %s from %s", i, events[i], w.action, w.node)
		}
	}
}

func TestRenewTakesOverPeerRecord(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if err := reg.ApplyRemoteUpdate(inst("orders", "i-1"), ActionAdded, "node-b"); err != nil {
		t.Fatal(err)
	}
	rec := &recorder{}
	reg.OnLocalChange(rec.listen)
	v := reg.Version()

	if !reg.Renew("orders", "i-1") {
		t.Fatal("renew of a replicated record should succeed")
	}
	got, _ := reg.GetInstance("orders", "i-1")
	if got.Origin != "" {
		t.Errorf("record should now be owned locally, origin %q", got.Origin)
	}
	if reg.Version() != v+1 {
		t.Errorf("takeover should be versioned")
	}
	events := rec.all()
	if len(events) != 1 || events[0].Action != ActionModified {
		t.Errorf("takeover should be announced once, got %+v", events)
	}

	reg.Renew("orders", "i-1")
	if reg.Version() != v+1 || len(rec.all()) != 1 {
		t.Error("ordinary renewals after takeover are not versioned")
	}
}

func TestPurgeOrigin(t *testing.T) {
	reg, _ := newTestRegistry(t)
	mustRegister(t, reg, inst("orders", "i-1"), 0)
	for _, id := range []string{"b-1", "b-2"} {
		if err := reg.ApplyRemoteUpdate(inst("orders", id), ActionAdded, "node-b"); err != nil {
			t.Fatal(err)
		}
	}
	if err := reg.ApplyRemoteUpdate(inst("billing", "c-1"), ActionAdded, "node-c"); err != nil {
		t.Fatal(err)
	}
	if got := reg.Origins(); len(got) != 2 || got[0] != "node-b" || got[1] != "node-c" {
		t.Fatalf("Origins() = %v", got)
	}

	var local, all []ChangeEvent
	reg.OnLocalChange(func(ev ChangeEvent) { local = append(local, ev) })
	reg.OnChange(func(ev ChangeEvent) { all = append(all, ev) })
	v := reg.Version()

	if n := reg.PurgeOrigin("node-b"); n != 2 {
		t.Fatalf("purged %d, want 2", n)
	}
	if reg.Version() != v+2 {
		t.Errorf("version = %d, want %d", reg.Version(), v+2)
	}
	if len(local) != 0 {
		t.Errorf("purge echoed to local listeners: %+v", local)
	}
	if len(all) != 2 || all[0].Action != ActionDeleted || all[0].NodeID != "node-b" {
		t.Errorf("watchers saw %+v", all)
	}
	if _, ok := reg.GetInstance("orders", "i-1"); !ok {
		t.Error("local record purged")
	}
	if _, ok := reg.GetInstance("billing", "c-1"); !ok {
		t.Error("other peer's record purged")
	}
	if n := reg.PurgeOrigin(reg.NodeID()); n != 0 {
		t.Errorf("purging own node id removed %d records", n)
	}
}
