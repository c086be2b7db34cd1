package gateway

import (
	"encoding/json"
	"errors"
	"log"

	"github.com/crewdeck/crewdeck/internal/chat"
	"github.com/crewdeck/crewdeck/internal/models"
	"github.com/crewdeck/crewdeck/internal/room"
	"github.com/crewdeck/crewdeck/internal/store"
)

// Wire payloads. Field names follow the client protocol, not Go convention.

type joinRoomData struct {
	RoomID string `json:"roomId"`
}

type sendMessageData struct {
	Content     string `json:"content"`
	RoomID      string `json:"roomId"`
	MessageType string `json:"messageType,omitempty"`
	FileName    string `json:"fileName,omitempty"`
	FileSize    int64  `json:"fileSize,omitempty"`
	FileData    string `json:"fileData,omitempty"`
	ReplyToID   *uint  `json:"replyToId,omitempty"`
	SenderID    uint   `json:"senderId"`
	Temp        bool   `json:"temp,omitempty"`
}

type fileChunkData struct {
	RoomID      string `json:"roomId"`
	SenderID    uint   `json:"senderId"`
	FileName    string `json:"fileName"`
	FileSize    int64  `json:"fileSize"`
	MessageType string `json:"messageType"`
	Chunk       string `json:"chunk"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
}

type typingData struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

type deleteMessageData struct {
	MessageID uint   `json:"messageId"`
	RoomID    string `json:"roomId"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type messageErrorPayload struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type deleteErrorPayload struct {
	Error string `json:"error"`
}

type historyPayload struct {
	Messages []models.Message `json:"messages"`
	RoomType string           `json:"roomType"`
}

// dispatch routes one inbound frame to its handler. Unknown events are
// logged and dropped, never fatal to the connection.
func (h *Hub) dispatch(c *Conn, raw []byte) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.Emit("error", errorPayload{Message: "Invalid frame"})
		return
	}

	switch f.Event {
	case "joinRoom", "joinTaskRoom":
		h.handleJoinRoom(c, f.Data)
	case "sendMessage":
		h.handleSendMessage(c, f.Data)
	case "sendComment":
		h.handleSendComment(c, f.Data)
	case "fileChunk":
		h.handleFileChunk(c, f.Data)
	case "typing":
		h.handleTyping(c, f.Data)
	case "deleteMessage":
		h.handleDeleteMessage(c, f.Data, "deleteError")
	case "deleteComment":
		h.handleDeleteMessage(c, f.Data, "error")
	case "getFriendList":
		h.handleGetFriendList(c)
	case "getOnlineUsers":
		c.Emit("onlineUsersList", h.presence.ListOnline())
	default:
		log.Printf("gateway: conn %s sent unknown event %q", c.ID, f.Event)
	}
}

func (h *Hub) handleJoinRoom(c *Conn, data json.RawMessage) {
	var req joinRoomData
	if err := json.Unmarshal(data, &req); err != nil {
		c.Emit("error", errorPayload{Message: "Invalid join payload"})
		return
	}
	d, err := room.Parse(req.RoomID)
	if err != nil {
		c.Emit("error", errorPayload{Message: "Invalid room"})
		return
	}

	if err := h.router.Authorize(d, c.ident.UserID); err != nil {
		if errors.Is(err, room.ErrAccessDenied) {
			if d.Kind == room.KindTask {
				c.Emit("error", errorPayload{Message: "Access denied to this task"})
			} else {
				c.Emit("error", errorPayload{Message: "Access denied to this conversation"})
			}
			return
		}
		c.Emit("error", errorPayload{Message: "Failed to join room"})
		return
	}

	scope, err := h.router.JoinOrCreate(d)
	if err != nil {
		c.Emit("error", errorPayload{Message: "Failed to join room"})
		return
	}
	if err := h.Join(c, d.Token()); err != nil {
		log.Printf("gateway: %v", err)
		c.Emit("error", errorPayload{Message: "Failed to join room"})
		return
	}

	messages, err := h.router.History(scope)
	if err != nil {
		c.Emit("error", errorPayload{Message: "Failed to load history"})
		return
	}
	c.Emit("messageHistory", historyPayload{Messages: messages, RoomType: d.RoomType()})
}

func (h *Hub) handleSendMessage(c *Conn, data json.RawMessage) {
	var req sendMessageData
	if err := json.Unmarshal(data, &req); err != nil {
		c.Emit("messageError", messageErrorPayload{Error: "Failed to send message", Details: err.Error()})
		return
	}
	h.sendThrough(c, req, "messageError")
}

func (h *Hub) handleSendComment(c *Conn, data json.RawMessage) {
	var req sendMessageData
	if err := json.Unmarshal(data, &req); err != nil {
		c.Emit("error", errorPayload{Message: "Failed to send comment"})
		return
	}
	h.sendThrough(c, req, "error")
}

// sendThrough runs a decoded send through the pipeline and maps pipeline
// errors onto the protocol's error events.
func (h *Hub) sendThrough(c *Conn, req sendMessageData, errEvent string) {
	d, err := room.Parse(req.RoomID)
	if err != nil {
		c.Emit("error", errorPayload{Message: "Invalid room"})
		return
	}

	_, err = h.pipeline.Send(chat.Identity{UserID: c.ident.UserID, Username: c.ident.Username},
		chat.SendEvent{
			Room:        d,
			SenderID:    req.SenderID,
			Content:     req.Content,
			MessageType: req.MessageType,
			FileName:    req.FileName,
			FileSize:    req.FileSize,
			FileData:    req.FileData,
			ReplyToID:   req.ReplyToID,
			Transient:   req.Temp,
		})
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, chat.ErrSenderMismatch):
		c.Emit("error", errorPayload{Message: "Unauthorized message send"})
	case errors.Is(err, room.ErrAccessDenied):
		if d.Kind == room.KindTask {
			c.Emit("error", errorPayload{Message: "Access denied to this task"})
		} else {
			c.Emit("error", errorPayload{Message: "Access denied to this conversation"})
		}
	default:
		if errEvent == "messageError" {
			c.Emit("messageError", messageErrorPayload{Error: "Failed to send message", Details: err.Error()})
		} else {
			c.Emit("error", errorPayload{Message: "Failed to send comment"})
		}
	}
}

// handleFileChunk buffers one chunk and, on completion, runs the assembled
// file through the pipeline directly as a file-bearing send.
func (h *Hub) handleFileChunk(c *Conn, data json.RawMessage) {
	var req fileChunkData
	if err := json.Unmarshal(data, &req); err != nil {
		c.Emit("error", errorPayload{Message: "Failed to process file chunk"})
		return
	}
	if req.SenderID != c.ident.UserID {
		c.Emit("error", errorPayload{Message: "Unauthorized file upload"})
		return
	}

	payload, done, err := c.assembler.Add(req.FileName, req.ChunkIndex, req.TotalChunks, req.Chunk)
	if err != nil {
		// A corrupt stream invalidates whatever partial buffer it built up.
		c.assembler.Drop(req.FileName)
		c.Emit("error", errorPayload{Message: "Failed to process file chunk"})
		return
	}
	if !done {
		return
	}

	h.sendThrough(c, sendMessageData{
		RoomID:      req.RoomID,
		SenderID:    req.SenderID,
		MessageType: req.MessageType,
		FileName:    req.FileName,
		FileSize:    req.FileSize,
		FileData:    payload,
	}, "messageError")
}

func (h *Hub) handleTyping(c *Conn, data json.RawMessage) {
	var req typingData
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	d, err := room.Parse(req.RoomID)
	if err != nil {
		return
	}
	ident := chat.Identity{UserID: c.ident.UserID, Username: c.ident.Username}
	if err := h.pipeline.Typing(ident, d, req.IsTyping); err != nil {
		log.Printf("gateway: typing broadcast: %v", err)
	}
}

func (h *Hub) handleDeleteMessage(c *Conn, data json.RawMessage, errEvent string) {
	var req deleteMessageData
	if err := json.Unmarshal(data, &req); err != nil {
		h.emitDeleteError(c, errEvent, "Invalid delete payload")
		return
	}
	d, err := room.Parse(req.RoomID)
	if err != nil {
		h.emitDeleteError(c, errEvent, "Invalid room")
		return
	}

	ident := chat.Identity{UserID: c.ident.UserID, Username: c.ident.Username}
	err = h.pipeline.Delete(ident, req.MessageID, d)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrMessageNotFound):
		h.emitDeleteError(c, errEvent, "Message not found")
	case errors.Is(err, chat.ErrNotOwner):
		h.emitDeleteError(c, errEvent, "Unauthorized to delete this message")
	default:
		h.emitDeleteError(c, errEvent, "Failed to delete message")
	}
}

func (h *Hub) emitDeleteError(c *Conn, errEvent, msg string) {
	if errEvent == "deleteError" {
		c.Emit("deleteError", deleteErrorPayload{Error: msg})
		return
	}
	c.Emit("error", errorPayload{Message: msg})
}

// handleGetFriendList answers with the user records of everyone currently
// online. The conversation-partner list is pushed separately after a direct
// send; this request is about who can be reached right now.
func (h *Hub) handleGetFriendList(c *Conn) {
	friends, err := h.store.UsersByIDs(h.presence.ListOnline())
	if err != nil {
		log.Printf("gateway: friend list for %d: %v", c.ident.UserID, err)
		c.Emit("friendList", []models.User{})
		return
	}
	if friends == nil {
		friends = []models.User{}
	}
	c.Emit("friendList", friends)
}
