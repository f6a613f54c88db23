package bot

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"
)

const (
	// cleanerInterval is how often stale menu panels are swept.
	cleanerInterval = 5 * time.Minute
	// menuMaxAge is how long a menu panel stays before deletion.
	menuMaxAge = 30 * time.Minute
)

type trackedMessage struct {
	ChatID    int64
	MessageID int
	SentAt    time.Time
}

// MenuCleaner deletes old bot-sent menu messages so private chats do
// not fill up with dead inline keyboards.
type MenuCleaner struct {
	mu      sync.Mutex
	tracked []trackedMessage
	done    chan struct{}
}

func NewMenuCleaner() *MenuCleaner {
	return &MenuCleaner{done: make(chan struct{})}
}

// Track registers a bot-sent message for later deletion.
func (m *MenuCleaner) Track(chatID int64, messageID int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tracked = append(m.tracked, trackedMessage{
		ChatID:    chatID,
		MessageID: messageID,
		SentAt:    time.Now(),
	})
}

// Start launches the background sweep goroutine.
func (m *MenuCleaner) Start(bot *tele.Bot) {
	go func() {
		ticker := time.NewTicker(cleanerInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.sweep(bot)
			case <-m.done:
				return
			}
		}
	}()
}

// Stop terminates the sweep goroutine.
func (m *MenuCleaner) Stop() {
	close(m.done)
}

// sweep deletes tracked messages older than menuMaxAge.
func (m *MenuCleaner) sweep(bot *tele.Bot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	remaining := make([]trackedMessage, 0, len(m.tracked))

	for _, msg := range m.tracked {
		if now.Sub(msg.SentAt) >= menuMaxAge {
			err := bot.Delete(&tele.Message{
				ID:   msg.MessageID,
				Chat: &tele.Chat{ID: msg.ChatID},
			})
			if err != nil {
				log.Debug().Err(err).Int("msg_id", msg.MessageID).Msg("Failed to delete old menu message")
			}
		} else {
			remaining = append(remaining, msg)
		}
	}

	m.tracked = remaining
}
