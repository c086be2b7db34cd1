// Package store is the durable-state collaborator for the messaging core.
// It wraps GORM access to users, projects, conversations, and messages.
// Uniqueness constraints in the schema are the source of truth for
// find-or-create races; the helpers here re-fetch on conflict instead of
// surfacing the violation.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/crewdeck/crewdeck/internal/models"
	"gorm.io/gorm"
)

// Sentinel errors matched with errors.Is at the event boundary.
var (
	ErrUserNotFound    = errors.New("store: user not found")
	ErrMessageNotFound = errors.New("store: message not found")
)

// Store provides durable-state operations over a GORM connection.
type Store struct {
	db *gorm.DB
}

// New creates a Store.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// UserByID fetches a single user.
func (s *Store) UserByID(id uint) (*models.User, error) {
	var u models.User
	if err := s.db.First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("store: user %d: %w", id, err)
	}
	return &u, nil
}

// SetUserOnline flips the persisted online flag. The flag is advisory; the
// presence tracker is the live source of truth while a gateway is running.
func (s *Store) SetUserOnline(userID uint, online bool) error {
	err := s.db.Model(&models.User{}).Where("id = ?", userID).
		Update("is_online", online).Error
	if err != nil {
		return fmt.Errorf("store: set user %d online=%v: %w", userID, online, err)
	}
	return nil
}

// UsersByIDs fetches the users whose ids appear in ids, in no particular order.
func (s *Store) UsersByIDs(ids []uint) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []models.User
	if err := s.db.Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("store: users by ids: %w", err)
	}
	return users, nil
}

// ProjectHasMember reports whether userID is a member of the project.
func (s *Store) ProjectHasMember(projectID, userID uint) (bool, error) {
	var count int64
	err := s.db.Table("project_members").
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("store: project %d membership: %w", projectID, err)
	}
	return count > 0, nil
}

// TaskProject returns the owning project id for a task.
func (s *Store) TaskProject(taskID uint) (uint, error) {
	var task models.Task
	if err := s.db.First(&task, taskID).Error; err != nil {
		return 0, fmt.Errorf("store: task %d: %w", taskID, err)
	}
	return task.ProjectID, nil
}

// FindOrCreateConversation returns the direct conversation for the user pair,
// creating it if absent. The pair is stored canonically (lower id first), and
// the compound uniqueness constraint resolves concurrent first-joins: a
// failed create is treated as "someone else created it" and re-fetched.
func (s *Store) FindOrCreateConversation(a, b uint) (*models.Conversation, error) {
	low, high := a, b
	if low > high {
		low, high = high, low
	}

	var conv models.Conversation
	err := s.db.Where("initiator_id = ? AND receiver_id = ?", low, high).First(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("store: find conversation (%d,%d): %w", low, high, err)
	}

	conv = models.Conversation{InitiatorID: low, ReceiverID: high, CreatedAt: time.Now()}
	if createErr := s.db.Create(&conv).Error; createErr != nil {
		// Likely a uniqueness conflict with a concurrent create; re-fetch.
		var existing models.Conversation
		if refetchErr := s.db.Where("initiator_id = ? AND receiver_id = ?", low, high).
			First(&existing).Error; refetchErr == nil {
			return &existing, nil
		}
		return nil, fmt.Errorf("store: create conversation (%d,%d): %w", low, high, createErr)
	}
	return &conv, nil
}

// FindOrCreateTaskConversation returns the comment thread for a task,
// creating it if absent. Same conflict semantics as direct conversations.
func (s *Store) FindOrCreateTaskConversation(taskID uint) (*models.TaskConversation, error) {
	var tc models.TaskConversation
	err := s.db.Where("task_id = ?", taskID).First(&tc).Error
	if err == nil {
		return &tc, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("store: find task conversation %d: %w", taskID, err)
	}

	tc = models.TaskConversation{TaskID: taskID, CreatedAt: time.Now()}
	if createErr := s.db.Create(&tc).Error; createErr != nil {
		var existing models.TaskConversation
		if refetchErr := s.db.Where("task_id = ?", taskID).First(&existing).Error; refetchErr == nil {
			return &existing, nil
		}
		return nil, fmt.Errorf("store: create task conversation %d: %w", taskID, createErr)
	}
	return &tc, nil
}

// CreateMessage persists a message and reloads it with its Sender and
// ReplyTo (including the replied-to sender), so broadcasts carry the full
// record exactly as history queries return it.
func (s *Store) CreateMessage(msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if err := s.db.Create(msg).Error; err != nil {
		return fmt.Errorf("store: create message: %w", err)
	}
	if err := s.db.Preload("Sender").Preload("ReplyTo").Preload("ReplyTo.Sender").
		First(msg, msg.ID).Error; err != nil {
		return fmt.Errorf("store: reload message %d: %w", msg.ID, err)
	}
	return nil
}

// MessageByID fetches a single message.
func (s *Store) MessageByID(id uint) (*models.Message, error) {
	var msg models.Message
	if err := s.db.First(&msg, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, fmt.Errorf("store: message %d: %w", id, err)
	}
	return &msg, nil
}

// DeleteMessage removes a message row.
func (s *Store) DeleteMessage(id uint) error {
	result := s.db.Delete(&models.Message{}, id)
	if result.Error != nil {
		return fmt.Errorf("store: delete message %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// ConversationHistory returns the most recent limit messages of a direct
// conversation in ascending creation order. A limit of 0 means unbounded.
func (s *Store) ConversationHistory(convID uint, limit int) ([]models.Message, error) {
	q := s.db.Where("conversation_id = ?", convID).
		Preload("Sender").Preload("ReplyTo").Preload("ReplyTo.Sender")

	if limit > 0 {
		// Take the newest limit rows, then flip back to ascending order.
		var newest []models.Message
		if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&newest).Error; err != nil {
			return nil, fmt.Errorf("store: conversation %d history: %w", convID, err)
		}
		for i, j := 0, len(newest)-1; i < j; i, j = i+1, j-1 {
			newest[i], newest[j] = newest[j], newest[i]
		}
		return newest, nil
	}

	var msgs []models.Message
	if err := q.Order("created_at ASC, id ASC").Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("store: conversation %d history: %w", convID, err)
	}
	return msgs, nil
}

// TaskHistory returns every message of a task thread in ascending creation
// order. Unbounded; task threads grow without a cap.
func (s *Store) TaskHistory(taskConvID uint) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.Where("task_conversation_id = ?", taskConvID).
		Preload("Sender").Preload("ReplyTo").Preload("ReplyTo.Sender").
		Order("created_at ASC, id ASC").Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("store: task conversation %d history: %w", taskConvID, err)
	}
	return msgs, nil
}

// TouchConversationPreview updates the cached last-message preview and
// timestamp on a direct conversation.
func (s *Store) TouchConversationPreview(convID uint, preview string, at time.Time) error {
	err := s.db.Model(&models.Conversation{}).Where("id = ?", convID).
		Updates(map[string]interface{}{
			"last_message":    preview,
			"last_message_at": at,
		}).Error
	if err != nil {
		return fmt.Errorf("store: touch conversation %d: %w", convID, err)
	}
	return nil
}

// FriendIDs returns the distinct ids of users who share a direct
// conversation with userID.
func (s *Store) FriendIDs(userID uint) ([]uint, error) {
	var convs []models.Conversation
	err := s.db.Where("initiator_id = ? OR receiver_id = ?", userID, userID).
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("store: friend ids for %d: %w", userID, err)
	}

	seen := make(map[uint]struct{}, len(convs))
	var ids []uint
	for _, c := range convs {
		other := c.InitiatorID
		if other == userID {
			other = c.ReceiverID
		}
		if other == userID {
			continue
		}
		if _, ok := seen[other]; ok {
			continue
		}
		seen[other] = struct{}{}
		ids = append(ids, other)
	}
	return ids, nil
}

// Friends returns the user records of everyone who shares a direct
// conversation with userID.
func (s *Store) Friends(userID uint) ([]models.User, error) {
	ids, err := s.FriendIDs(userID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	users, err := s.UsersByIDs(ids)
	if err != nil {
		return nil, err
	}
	return users, nil
}
