package realtime

import (
	"sort"
	"sync"
	"time"

	"carechat/internal/models"
	"carechat/internal/services"
)

// ReceiptCache mirrors participant rows of watched conversations. Read cursors
// only ever move forward, whatever order the updates arrive in.
type ReceiptCache struct {
	mu            sync.RWMutex
	conversations map[uint]map[uint]models.Participant
}

func NewReceiptCache() *ReceiptCache {
	return &ReceiptCache{conversations: make(map[uint]map[uint]models.Participant)}
}

// Replace installs a snapshot, keeping any cursor that is already further along.
func (rc *ReceiptCache) Replace(conversationID uint, participants []models.Participant) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	previous := rc.conversations[conversationID]
	rows := make(map[uint]models.Participant, len(participants))
	for _, participant := range participants {
		if known, ok := previous[participant.UserID]; ok {
			participant.LastReadAt = later(known.LastReadAt, participant.LastReadAt)
		}
		rows[participant.UserID] = participant
	}
	rc.conversations[conversationID] = rows
}

// Advance merges one participant row and reports whether anything changed.
func (rc *ReceiptCache) Advance(participant models.Participant) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rows, ok := rc.conversations[participant.ConversationID]
	if !ok {
		rows = make(map[uint]models.Participant)
		rc.conversations[participant.ConversationID] = rows
	}
	known, ok := rows[participant.UserID]
	if !ok {
		rows[participant.UserID] = participant
		return true
	}
	cursor := later(known.LastReadAt, participant.LastReadAt)
	if sameInstant(cursor, known.LastReadAt) {
		return false
	}
	known.LastReadAt = cursor
	rows[participant.UserID] = known
	return true
}

func (rc *ReceiptCache) Participants(conversationID uint) []models.Participant {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	participants := make([]models.Participant, 0, len(rc.conversations[conversationID]))
	for _, participant := range rc.conversations[conversationID] {
		participants = append(participants, participant)
	}
	sort.Slice(participants, func(i, j int) bool { return participants[i].UserID < participants[j].UserID })
	return participants
}

func (rc *ReceiptCache) Readers(conversationID uint, createdAt time.Time, senderID uint) []models.Participant {
	return services.ReadersFrom(rc.Participants(conversationID), createdAt, senderID)
}

func (rc *ReceiptCache) Drop(conversationID uint) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.conversations, conversationID)
}

func later(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	default:
		return a
	}
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
