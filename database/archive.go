package database

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/CUknot/chat_relay/models"
	"gorm.io/gorm"
)

// MessageArchive writes relayed messages to the database in the background.
// The relay never reads from it; it only extends history past process lifetime.
type MessageArchive struct {
	db    *gorm.DB
	queue chan models.Message

	mu      sync.Mutex
	dropped int
	wg      sync.WaitGroup
}

func NewMessageArchive(db *gorm.DB, queueSize int) *MessageArchive {
	return &MessageArchive{db: db, queue: make(chan models.Message, queueSize)}
}

// Archive queues msg. It never blocks; when the queue is full the message is
// dropped from the archive (it is still relayed and kept in room history).
func (a *MessageArchive) Archive(msg models.Message) {
	select {
	case a.queue <- msg:
	default:
		a.mu.Lock()
		a.dropped++
		n := a.dropped
		a.mu.Unlock()
		log.Printf("[archive] queue full, dropped message %s (%d dropped so far)", msg.ID, n)
	}
}

// Dropped reports how many messages did not fit into the queue.
func (a *MessageArchive) Dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Start writes queued messages in a goroutine until ctx is done, then drains
// what is left.
func (a *MessageArchive) Start(ctx context.Context) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.run(ctx)
	}()
}

func (a *MessageArchive) run(ctx context.Context) {
	for {
		select {
		case msg := <-a.queue:
			a.store(msg)
		case <-ctx.Done():
			for {
				select {
				case msg := <-a.queue:
					a.store(msg)
				default:
					return
				}
			}
		}
	}
}

// Wait blocks until the archive goroutine has drained and returned.
func (a *MessageArchive) Wait() {
	a.wg.Wait()
}

func (a *MessageArchive) store(msg models.Message) {
	record := models.NewMessageRecord(msg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.db.WithContext(ctx).Create(&record).Error; err != nil {
		log.Printf("[archive] error saving message %s: %v", msg.ID, err)
	}
}

// Recent returns up to limit archived messages of a room, oldest first.
func (a *MessageArchive) Recent(ctx context.Context, roomID string, limit int) ([]models.MessageRecord, error) {
	var records []models.MessageRecord
	err := a.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("sent_at DESC, seq DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch archived messages: %w", err)
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}
