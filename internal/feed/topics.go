package feed

import "fmt"

func MessagesTopic(conversationID uint) string {
	return fmt.Sprintf("chat:conversation:%d:messages", conversationID)
}

func ParticipantsTopic(conversationID uint) string {
	return fmt.Sprintf("chat:conversation:%d:participants", conversationID)
}

func PresenceTopic(conversationID uint) string {
	return fmt.Sprintf("chat:conversation:%d:presence", conversationID)
}

// UnreadTopic carries every event that can move a user's unread total.
func UnreadTopic(userID uint) string {
	return fmt.Sprintf("chat:user:%d:unread", userID)
}
