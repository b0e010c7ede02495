package realtime

import (
	"sort"
	"sync"

	"carechat/internal/models"
)

// MessageCache is the rendered message list of each watched conversation.
// Live inserts are appended in arrival order so rows already on screen never
// move; a snapshot replaces the list with the store's ordering.
type MessageCache struct {
	mu            sync.RWMutex
	conversations map[uint]*messageList
}

type messageList struct {
	messages []models.Message
	index    map[uint]int
}

func NewMessageCache() *MessageCache {
	return &MessageCache{conversations: make(map[uint]*messageList)}
}

// Replace installs a snapshot. Deleted rows are dropped.
func (mc *MessageCache) Replace(conversationID uint, messages []models.Message) {
	list := &messageList{index: make(map[uint]int, len(messages))}
	sorted := make([]models.Message, 0, len(messages))
	for _, message := range messages {
		if !message.IsDeleted {
			sorted = append(sorted, message)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Before(&sorted[j]) })
	for _, message := range sorted {
		if _, seen := list.index[message.ID]; seen {
			continue
		}
		list.index[message.ID] = len(list.messages)
		list.messages = append(list.messages, message)
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.conversations[conversationID] = list
}

// Insert appends message unless it is already present. It reports whether
// the list changed.
func (mc *MessageCache) Insert(message models.Message) bool {
	if message.IsDeleted {
		return false
	}
	mc.mu.Lock()
	defer mc.mu.Unlock()

	list, ok := mc.conversations[message.ConversationID]
	if !ok {
		list = &messageList{index: make(map[uint]int)}
		mc.conversations[message.ConversationID] = list
	}
	if _, seen := list.index[message.ID]; seen {
		return false
	}
	list.index[message.ID] = len(list.messages)
	list.messages = append(list.messages, message)
	return true
}

func (mc *MessageCache) Remove(conversationID, messageID uint) bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	list, ok := mc.conversations[conversationID]
	if !ok {
		return false
	}
	position, ok := list.index[messageID]
	if !ok {
		return false
	}
	list.messages = append(list.messages[:position], list.messages[position+1:]...)
	delete(list.index, messageID)
	for i := position; i < len(list.messages); i++ {
		list.index[list.messages[i].ID] = i
	}
	return true
}

func (mc *MessageCache) Get(conversationID, messageID uint) (models.Message, bool) {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	list, ok := mc.conversations[conversationID]
	if !ok {
		return models.Message{}, false
	}
	position, ok := list.index[messageID]
	if !ok {
		return models.Message{}, false
	}
	return list.messages[position], true
}

func (mc *MessageCache) List(conversationID uint) []models.Message {
	mc.mu.RLock()
	defer mc.mu.RUnlock()
	list, ok := mc.conversations[conversationID]
	if !ok {
		return []models.Message{}
	}
	return append([]models.Message(nil), list.messages...)
}

func (mc *MessageCache) Drop(conversationID uint) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	delete(mc.conversations, conversationID)
}
