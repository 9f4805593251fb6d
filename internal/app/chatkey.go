package app

import "github.com/dkeye/chatline/internal/domain"

const (
	directKeyPrefix = "dm:"
	groupKeyPrefix  = "group:"
)

// ChatKey names the conversation a message belongs to: "group:<name>" for
// group chats and "dm:<a>:<b>" with usernames in ascending order otherwise.
func ChatKey(from, to domain.Target) string {
	if to.Group {
		return GroupChatKey(to.Username)
	}
	return DirectChatKey(from.Username, to.Username)
}

func DirectChatKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return directKeyPrefix + a + ":" + b
}

func GroupChatKey(name string) string {
	return groupKeyPrefix + name
}
