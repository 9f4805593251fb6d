//go:generate go run go.uber.org/mock/mockgen -source=history_iface.go -destination=../mocks/mock_history_store.go -package=mocks
package core

import (
	"context"

	"github.com/dkeye/chatline/internal/domain"
)

// HistoryStore persists chat messages per conversation.
// Append is idempotent per message ID; LoadAll returns messages oldest first.
type HistoryStore interface {
	Append(ctx context.Context, chatKey string, msg domain.Message) error
	LoadAll(ctx context.Context, chatKey string) ([]domain.Message, error)
	Close() error
}
