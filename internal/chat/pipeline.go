// Package chat is the message pipeline: every inbound chat event runs
// validate → persist → broadcast, with rejection short-circuits before
// persistence. The pipeline never talks to sockets directly; broadcasts go
// through an Emitter backed by the broadcast bus.
package chat

import (
	"errors"
	"fmt"
	"time"

	"github.com/crewdeck/crewdeck/internal/models"
	"github.com/crewdeck/crewdeck/internal/room"
	"github.com/crewdeck/crewdeck/internal/store"
)

// Sentinel errors matched with errors.Is at the event boundary.
var (
	// ErrSenderMismatch means the declared sender is not the connection's
	// authenticated identity. The event is dropped before persistence.
	ErrSenderMismatch = errors.New("chat: sender does not match authenticated user")
	// ErrInvalidEvent means the payload is malformed (no content, no file).
	ErrInvalidEvent = errors.New("chat: invalid message event")
	// ErrNotOwner means a delete was attempted by someone other than the
	// message's sender.
	ErrNotOwner = errors.New("chat: not the message owner")
)

// Emitter delivers wire events to room members or a single user. The
// gateway hub implements it on top of the broadcast bus, so every emission
// reaches all server instances.
type Emitter interface {
	// ToRoom delivers to every connection joined to the room, sender included.
	ToRoom(roomToken, event string, data interface{}) error
	// ToRoomExcept delivers to every room member except excludeUserID.
	ToRoomExcept(roomToken string, excludeUserID uint, event string, data interface{}) error
	// ToUser delivers privately to one user's active connection.
	ToUser(userID uint, event string, data interface{}) error
}

// SendEvent is a validated inbound send, already resolved to a descriptor.
type SendEvent struct {
	Room        room.Descriptor
	SenderID    uint
	Content     string
	MessageType string
	FileName    string
	FileSize    int64
	FileData    string // base64; non-empty means a file-bearing send
	ReplyToID   *uint
	Transient   bool // optimistic echo: broadcast, never persist
}

// Pipeline validates, persists, and broadcasts chat events.
type Pipeline struct {
	store      *store.Store
	router     *room.Router
	emitter    Emitter
	previewLen int
}

// PipelineOpts holds parameters for creating a Pipeline.
type PipelineOpts struct {
	Store      *store.Store
	Router     *room.Router
	Emitter    Emitter
	PreviewLen int // defaults to 100
}

// NewPipeline creates a Pipeline.
func NewPipeline(opts PipelineOpts) (*Pipeline, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("chat: pipeline: store is required")
	}
	if opts.Router == nil {
		return nil, fmt.Errorf("chat: pipeline: router is required")
	}
	if opts.Emitter == nil {
		return nil, fmt.Errorf("chat: pipeline: emitter is required")
	}
	previewLen := opts.PreviewLen
	if previewLen <= 0 {
		previewLen = 100
	}
	return &Pipeline{
		store:      opts.Store,
		router:     opts.Router,
		emitter:    opts.Emitter,
		previewLen: previewLen,
	}, nil
}

// transientMessage is the wire shape of an optimistic echo: it mirrors a
// persisted message but carries no generated id and is flagged temp.
type transientMessage struct {
	Content     string      `json:"content"`
	SenderID    uint        `json:"senderId"`
	MessageType string      `json:"messageType"`
	FileName    string      `json:"fileName,omitempty"`
	FileSize    int64       `json:"fileSize,omitempty"`
	ReplyToID   *uint       `json:"replyToId,omitempty"`
	Temp        bool        `json:"temp"`
	CreatedAt   time.Time   `json:"createdAt"`
	Sender      models.User `json:"sender"`
}

// Send runs one send event through the pipeline. The caller's authenticated
// identity gates the declared sender: a mismatch rejects the event before
// anything is persisted or broadcast. Transient events are broadcast without
// persistence; the loss window is accepted.
func (p *Pipeline) Send(ident Identity, ev SendEvent) (*models.Message, error) {
	if ev.SenderID != ident.UserID {
		return nil, fmt.Errorf("%w: declared %d, authenticated %d",
			ErrSenderMismatch, ev.SenderID, ident.UserID)
	}
	if ev.Content == "" && ev.FileData == "" {
		return nil, fmt.Errorf("%w: empty content and no file", ErrInvalidEvent)
	}
	if err := p.router.Authorize(ev.Room, ident.UserID); err != nil {
		return nil, err
	}

	messageType := ev.MessageType
	if messageType == "" {
		messageType = models.MessageTypeText
	}

	body := TextBody(ev.Content)
	if ev.FileData != "" && ev.FileName != "" {
		body = FileBody(messageType, ev.FileName, ev.FileSize, ev.FileData, ev.Content)
	}
	content, err := body.Encode()
	if err != nil {
		return nil, err
	}

	if ev.Transient {
		echo := transientMessage{
			Content:     content,
			SenderID:    ev.SenderID,
			MessageType: messageType,
			FileName:    ev.FileName,
			FileSize:    ev.FileSize,
			ReplyToID:   ev.ReplyToID,
			Temp:        true,
			CreatedAt:   time.Now(),
			Sender:      models.User{ID: ident.UserID, Username: ident.Username},
		}
		if err := p.emitter.ToRoom(ev.Room.Token(), "newMessage", echo); err != nil {
			return nil, err
		}
		return nil, nil
	}

	scope, err := p.router.JoinOrCreate(ev.Room)
	if err != nil {
		return nil, err
	}

	msg := models.Message{
		Content:     content,
		SenderID:    ev.SenderID,
		MessageType: messageType,
		FileName:    ev.FileName,
		FileSize:    ev.FileSize,
		ReplyToID:   ev.ReplyToID,
	}
	if scope.Kind == room.KindDirect {
		msg.ConversationID = &scope.ConversationID
	} else {
		msg.TaskConversationID = &scope.TaskConversationID
	}
	if err := p.store.CreateMessage(&msg); err != nil {
		return nil, err
	}

	// Broadcast the persisted record verbatim, sender included, so
	// optimistic copies reconcile against the generated id and timestamp.
	if err := p.emitter.ToRoom(ev.Room.Token(), "newMessage", msg); err != nil {
		return &msg, err
	}

	if scope.Kind == room.KindDirect {
		p.afterDirectSend(ident, scope.ConversationID, body, msg.CreatedAt)
	}
	return &msg, nil
}

// afterDirectSend refreshes the conversation preview and pushes the
// sender's recomputed friend list back to them (privately, not broadcast).
// The message is already persisted and broadcast, so failures here do not
// fail the send.
func (p *Pipeline) afterDirectSend(ident Identity, convID uint, body Body, at time.Time) {
	preview := body.Preview(p.previewLen)
	if err := p.store.TouchConversationPreview(convID, preview, at); err != nil {
		return
	}
	friends, err := p.store.Friends(ident.UserID)
	if err != nil {
		return
	}
	p.emitter.ToUser(ident.UserID, "friendList", friends)
}

// Delete removes a message. Only the original sender may delete; everyone
// joined to the room learns the id of the removed message.
func (p *Pipeline) Delete(ident Identity, messageID uint, d room.Descriptor) error {
	msg, err := p.store.MessageByID(messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != ident.UserID {
		return fmt.Errorf("%w: message %d belongs to %d", ErrNotOwner, messageID, msg.SenderID)
	}
	if err := p.store.DeleteMessage(messageID); err != nil {
		return err
	}
	return p.emitter.ToRoom(d.Token(), "messageDeleted", messageID)
}

// TypingEvent is the wire payload of a typing notification.
type TypingEvent struct {
	UserID   uint   `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// Typing broadcasts a typing notification to the room, excluding the typist.
// Nothing is persisted.
func (p *Pipeline) Typing(ident Identity, d room.Descriptor, isTyping bool) error {
	return p.emitter.ToRoomExcept(d.Token(), ident.UserID, "typing", TypingEvent{
		UserID:   ident.UserID,
		Username: ident.Username,
		IsTyping: isTyping,
	})
}

// Identity is the authenticated identity riding on a connection. It mirrors
// auth.Identity without importing it, keeping the pipeline free of the
// credential layer.
type Identity struct {
	UserID   uint
	Username string
}
