package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"carechat/internal/errs"
)

func TestMarkReadNeverRegresses(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.group(t, 1, 1, 2)

	t0 := env.clock.Now()
	env.clock.Advance(10 * time.Minute)
	t1 := env.clock.Now().Add(-5 * time.Minute)

	if _, err := env.receipts.MarkRead(ctx, id, 2, &t1); err != nil {
		t.Fatalf("MarkRead(T1): %v", err)
	}
	participant, err := env.receipts.MarkRead(ctx, id, 2, &t0)
	if err != nil {
		t.Fatalf("MarkRead(T0): %v", err)
	}
	if !participant.LastReadAt.Equal(t1) {
		t.Errorf("last_read_at = %v, want %v", participant.LastReadAt, t1)
	}

	// A nil timestamp means now.
	participant, _ = env.receipts.MarkRead(ctx, id, 2, nil)
	if !participant.LastReadAt.Equal(env.clock.Now()) {
		t.Errorf("last_read_at after default mark = %v, want %v", participant.LastReadAt, env.clock.Now())
	}

	if _, err := env.receipts.MarkRead(ctx, id, 3, nil); !errors.Is(err, errs.ErrParticipantNotFound) {
		t.Errorf("non-member err = %v", err)
	}
}

func TestMarkReadClampsFutureTimestamps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.group(t, 1, 1, 2)

	future := env.clock.Now().AddDate(1, 0, 0)
	participant, err := env.receipts.MarkRead(ctx, id, 1, &future)
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if !participant.LastReadAt.Equal(env.clock.Now()) {
		t.Errorf("last_read_at = %v, want clamped to %v", participant.LastReadAt, env.clock.Now())
	}

	env.clock.Advance(time.Minute)
	message := env.send(t, id, 2, "arrived later")
	if got, _ := env.unread.CountFor(ctx, 1); got != 1 {
		t.Errorf("unread = %d, want 1", got)
	}
	readers, err := env.receipts.ReadersAsOf(ctx, id, message.CreatedAt, message.SenderID)
	if err != nil {
		t.Fatalf("ReadersAsOf: %v", err)
	}
	if len(readers) != 0 {
		t.Errorf("readers = %+v, want none", readers)
	}
}

func TestReadersAsOfExcludesSender(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.group(t, 1, 1, 2, 3)
	message := env.send(t, id, 1, "shift notes uploaded")

	// Sender's cursor covers the message but is not a receipt.
	now := env.clock.Now()
	for _, userID := range []uint{1, 2} {
		if _, err := env.receipts.MarkRead(ctx, id, userID, &now); err != nil {
			t.Fatal(err)
		}
	}
	stale := message.CreatedAt.Add(-time.Second)
	if _, err := env.receipts.MarkRead(ctx, id, 3, &stale); err != nil {
		t.Fatal(err)
	}

	readers, err := env.receipts.ReadersAsOf(ctx, id, message.CreatedAt, message.SenderID)
	if err != nil {
		t.Fatalf("ReadersAsOf: %v", err)
	}
	if len(readers) != 1 || readers[0].UserID != 2 {
		t.Errorf("readers = %+v, want only user 2", readers)
	}

	// A cursor exactly at created_at counts as read.
	if _, err := env.receipts.MarkRead(ctx, id, 3, &message.CreatedAt); err != nil {
		t.Fatal(err)
	}
	readers, _ = env.receipts.ReadersAsOf(ctx, id, message.CreatedAt, message.SenderID)
	if len(readers) != 2 {
		t.Errorf("readers = %+v, want users 2 and 3", readers)
	}
}
