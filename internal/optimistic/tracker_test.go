package optimistic

import (
	"testing"
	"time"

	"github.com/tbourn/go-thread-sync/internal/domain"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func createRec(content string) domain.MutationRecord {
	return domain.MutationRecord{
		Op: domain.OpCreate,
		Item: domain.Item{
			ID:        "local-" + content,
			ThreadID:  "t1",
			AuthorID:  "u1",
			Content:   content,
			CreatedAt: base,
		},
		SubmittedAt: base,
	}
}

func deleteRec(targetID string) domain.MutationRecord {
	return domain.MutationRecord{Op: domain.OpDelete, TargetID: targetID, SubmittedAt: base}
}

func TestTracker_SubmitAssignsLocalIDAndPending(t *testing.T) {
	tr := New(0)
	id := tr.Submit(createRec("hi"))
	if id == "" {
		t.Fatalf("expected non-empty local id")
	}
	rec, ok := tr.Get(id)
	if !ok || rec.State != domain.StatePending {
		t.Fatalf("record = %+v ok=%v, want pending", rec, ok)
	}
	if got := tr.Records(); len(got) != 1 {
		t.Fatalf("Records() = %d entries, want 1", len(got))
	}
}

func TestTracker_ResolveConfirmedSetsServerID(t *testing.T) {
	tr := New(0)
	id := tr.Submit(createRec("hi"))

	server := &domain.Item{ID: "srv-3", ThreadID: "t1", AuthorID: "u1", Content: "hi", CreatedAt: base}
	rec, applied := tr.Resolve(id, Outcome{State: domain.StateConfirmed, ServerItem: server})
	if !applied {
		t.Fatalf("resolution must apply")
	}
	if rec.ServerID != "srv-3" || rec.State != domain.StateConfirmed {
		t.Fatalf("rec = %+v, want confirmed with server id srv-3", rec)
	}
}

func TestTracker_ResolveIsIdempotent(t *testing.T) {
	tr := New(0)
	id := tr.Submit(createRec("hi"))

	if _, applied := tr.Resolve(id, Outcome{State: domain.StateFailed}); !applied {
		t.Fatalf("first resolution must apply")
	}
	if _, applied := tr.Resolve(id, Outcome{State: domain.StateConfirmed}); applied {
		t.Fatalf("second resolution must be a no-op")
	}
	if rec, _ := tr.Get(id); rec.State != domain.StateFailed {
		t.Fatalf("state = %q, want the first outcome to stick", rec.State)
	}
}

func TestTracker_ResolveUnknownIDIsNoOp(t *testing.T) {
	tr := New(0)
	if _, applied := tr.Resolve("nope", Outcome{State: domain.StateConfirmed}); applied {
		t.Fatalf("unknown id must not resolve")
	}
}

func TestTracker_FailedCreateRetainedForRetry(t *testing.T) {
	tr := New(0)
	id := tr.Submit(createRec("hi"))
	tr.Resolve(id, Outcome{State: domain.StateFailed})

	failed := tr.Failed()
	if len(failed) != 1 || failed[0].LocalID != id {
		t.Fatalf("Failed() = %+v, want the failed create", failed)
	}

	rec, ok := tr.Reopen(id, base.Add(time.Minute))
	if !ok || rec.State != domain.StatePending {
		t.Fatalf("Reopen = %+v ok=%v, want pending again", rec, ok)
	}
	if len(tr.Failed()) != 0 {
		t.Fatalf("reopened record must leave Failed()")
	}
}

func TestTracker_FailedDeleteRetiredImmediately(t *testing.T) {
	tr := New(0)
	id := tr.Submit(deleteRec("item-2"))

	rec, applied := tr.Resolve(id, Outcome{State: domain.StateFailed})
	if !applied || rec.State != domain.StateFailed {
		t.Fatalf("rec = %+v applied=%v", rec, applied)
	}
	if _, ok := tr.Get(id); ok {
		t.Fatalf("failed delete must be retired so its target un-hides")
	}
}

func TestTracker_ExpiredReportsOldPending(t *testing.T) {
	tr := New(30 * time.Second)
	old := tr.Submit(createRec("old"))

	fresh := createRec("fresh")
	fresh.SubmittedAt = base.Add(50 * time.Second)
	tr.Submit(fresh)

	expired := tr.Expired(base.Add(time.Minute))
	if len(expired) != 1 || expired[0].LocalID != old {
		t.Fatalf("Expired = %+v, want only the old record", expired)
	}
}

func TestTracker_ExpiryDisabledWithoutTimeout(t *testing.T) {
	tr := New(0)
	tr.Submit(createRec("hi"))
	if got := tr.Expired(base.Add(time.Hour)); got != nil {
		t.Fatalf("Expired = %+v, want nil when timeout disabled", got)
	}
}

func TestTracker_AbandonIgnoresLateResolutions(t *testing.T) {
	tr := New(0)
	id := tr.Submit(createRec("hi"))
	tr.Abandon()

	if _, applied := tr.Resolve(id, Outcome{State: domain.StateConfirmed}); applied {
		t.Fatalf("resolution after abandon must be ignored")
	}
	if tr.Submit(createRec("late")) != "" {
		t.Fatalf("submission after abandon must be rejected")
	}
	if len(tr.Records()) != 0 {
		t.Fatalf("abandoned tracker must render nothing")
	}
}
