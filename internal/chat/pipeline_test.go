package chat

import (
	"errors"
	"fmt"
	"testing"

	"github.com/crewdeck/crewdeck/internal/models"
	"github.com/crewdeck/crewdeck/internal/room"
	"github.com/crewdeck/crewdeck/internal/store"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// recordingEmitter captures emissions for assertions.
type recordingEmitter struct {
	emissions []emission
}

type emission struct {
	kind    string // "room", "roomExcept", "user"
	target  string
	exclude uint
	userID  uint
	event   string
	data    interface{}
}

func (r *recordingEmitter) ToRoom(roomToken, event string, data interface{}) error {
	r.emissions = append(r.emissions, emission{kind: "room", target: roomToken, event: event, data: data})
	return nil
}

func (r *recordingEmitter) ToRoomExcept(roomToken string, exclude uint, event string, data interface{}) error {
	r.emissions = append(r.emissions, emission{kind: "roomExcept", target: roomToken, exclude: exclude, event: event, data: data})
	return nil
}

func (r *recordingEmitter) ToUser(userID uint, event string, data interface{}) error {
	r.emissions = append(r.emissions, emission{kind: "user", userID: userID, event: event, data: data})
	return nil
}

func (r *recordingEmitter) byEvent(event string) []emission {
	var out []emission
	for _, e := range r.emissions {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type pipelineFixture struct {
	pipeline *Pipeline
	emitter  *recordingEmitter
	store    *store.Store
	db       *gorm.DB
	alice    models.User
	bob      models.User
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{}, &models.Project{}, &models.Task{},
		&models.Conversation{}, &models.TaskConversation{}, &models.Message{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	st := store.New(db)
	router, err := room.NewRouter(room.RouterOpts{Store: st})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	emitter := &recordingEmitter{}
	p, err := NewPipeline(PipelineOpts{Store: st, Router: router, Emitter: emitter, PreviewLen: 100})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	f := &pipelineFixture{pipeline: p, emitter: emitter, store: st, db: db}
	f.alice = models.User{Username: "alice", Email: "alice@example.com"}
	f.bob = models.User{Username: "bob", Email: "bob@example.com"}
	db.Create(&f.alice)
	db.Create(&f.bob)
	return f
}

func (f *pipelineFixture) directRoom(t *testing.T) room.Descriptor {
	t.Helper()
	d, err := room.Parse(fmt.Sprintf("direct-%d-%d", f.alice.ID, f.bob.ID))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return d
}

func (f *pipelineFixture) aliceIdent() Identity {
	return Identity{UserID: f.alice.ID, Username: f.alice.Username}
}

func TestSend_PersistsAndBroadcasts(t *testing.T) {
	f := newPipelineFixture(t)
	d := f.directRoom(t)

	msg, err := f.pipeline.Send(f.aliceIdent(), SendEvent{
		Room: d, SenderID: f.alice.ID, Content: "hi",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.ID == 0 {
		t.Fatal("message not persisted")
	}
	if msg.Content != "hi" {
		t.Errorf("Content = %q, want hi", msg.Content)
	}
	if msg.Sender.Username != "alice" {
		t.Errorf("Sender.Username = %q, want alice", msg.Sender.Username)
	}

	broadcasts := f.emitter.byEvent("newMessage")
	if len(broadcasts) != 1 {
		t.Fatalf("newMessage broadcasts = %d, want 1", len(broadcasts))
	}
	if broadcasts[0].kind != "room" || broadcasts[0].target != d.Token() {
		t.Errorf("broadcast = %+v, want to room %s (sender included)", broadcasts[0], d.Token())
	}
	got, ok := broadcasts[0].data.(models.Message)
	if !ok {
		t.Fatalf("broadcast payload type = %T, want models.Message", broadcasts[0].data)
	}
	if got.ID != msg.ID {
		t.Errorf("broadcast id = %d, want the persisted id %d", got.ID, msg.ID)
	}
}

func TestSend_SenderMismatch(t *testing.T) {
	f := newPipelineFixture(t)
	d := f.directRoom(t)

	_, err := f.pipeline.Send(f.aliceIdent(), SendEvent{
		Room: d, SenderID: f.bob.ID, Content: "spoofed",
	})
	if !errors.Is(err, ErrSenderMismatch) {
		t.Fatalf("err = %v, want ErrSenderMismatch", err)
	}

	var count int64
	f.db.Model(&models.Message{}).Count(&count)
	if count != 0 {
		t.Errorf("message rows = %d, want 0 (mismatch must never persist)", count)
	}
	if len(f.emitter.emissions) != 0 {
		t.Errorf("emissions = %d, want 0 (mismatch must never broadcast)", len(f.emitter.emissions))
	}
}

func TestSend_EmptyPayloadRejected(t *testing.T) {
	f := newPipelineFixture(t)
	d := f.directRoom(t)

	_, err := f.pipeline.Send(f.aliceIdent(), SendEvent{Room: d, SenderID: f.alice.ID})
	if !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("err = %v, want ErrInvalidEvent", err)
	}
}

func TestSend_UnauthorizedRoom(t *testing.T) {
	f := newPipelineFixture(t)
	d, _ := room.Parse("direct-998-999")

	_, err := f.pipeline.Send(f.aliceIdent(), SendEvent{
		Room: d, SenderID: f.alice.ID, Content: "hi",
	})
	if !errors.Is(err, room.ErrAccessDenied) {
		t.Fatalf("err = %v, want room.ErrAccessDenied", err)
	}

	var count int64
	f.db.Model(&models.Conversation{}).Count(&count)
	if count != 0 {
		t.Errorf("conversation rows = %d, want 0 (denied send creates nothing)", count)
	}
}

func TestSend_Transient(t *testing.T) {
	f := newPipelineFixture(t)
	d := f.directRoom(t)

	msg, err := f.pipeline.Send(f.aliceIdent(), SendEvent{
		Room: d, SenderID: f.alice.ID, Content: "draft", Transient: true,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg != nil {
		t.Error("transient send returned a persisted message")
	}

	var count int64
	f.db.Model(&models.Message{}).Count(&count)
	if count != 0 {
		t.Errorf("message rows = %d, want 0 (transient is never persisted)", count)
	}

	broadcasts := f.emitter.byEvent("newMessage")
	if len(broadcasts) != 1 {
		t.Fatalf("newMessage broadcasts = %d, want 1", len(broadcasts))
	}
	echo, ok := broadcasts[0].data.(transientMessage)
	if !ok {
		t.Fatalf("payload type = %T, want transientMessage", broadcasts[0].data)
	}
	if !echo.Temp {
		t.Error("transient echo not flagged temp")
	}
	if echo.Sender.Username != "alice" {
		t.Errorf("echo sender = %q, want alice", echo.Sender.Username)
	}
}

func TestSend_FileEnvelope(t *testing.T) {
	f := newPipelineFixture(t)
	d := f.directRoom(t)

	msg, err := f.pipeline.Send(f.aliceIdent(), SendEvent{
		Room:        d,
		SenderID:    f.alice.ID,
		Content:     "see attached",
		MessageType: models.MessageTypeImage,
		FileName:    "cat.png",
		FileSize:    2048,
		FileData:    "aGVsbG8=",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	body := ParseBody(msg.Content)
	if body.File == nil {
		t.Fatal("file send stored plain text content")
	}
	if body.File.FileName != "cat.png" || body.File.Data != "aGVsbG8=" {
		t.Errorf("envelope = %+v", body.File)
	}
	if body.File.Text != "see attached" {
		t.Errorf("envelope text = %q", body.File.Text)
	}
	if msg.MessageType != models.MessageTypeImage {
		t.Errorf("MessageType = %q, want IMAGE", msg.MessageType)
	}
}

func TestSend_DirectUpdatesPreviewAndFriendList(t *testing.T) {
	f := newPipelineFixture(t)
	d := f.directRoom(t)

	if _, err := f.pipeline.Send(f.aliceIdent(), SendEvent{
		Room: d, SenderID: f.alice.ID, Content: "hi",
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var conv models.Conversation
	if err := f.db.First(&conv).Error; err != nil {
		t.Fatalf("load conversation: %v", err)
	}
	if conv.LastMessage != "hi" {
		t.Errorf("LastMessage = %q, want hi", conv.LastMessage)
	}
	if conv.LastMessageAt == nil {
		t.Error("LastMessageAt not set")
	}

	pushes := f.emitter.byEvent("friendList")
	if len(pushes) != 1 {
		t.Fatalf("friendList pushes = %d, want 1", len(pushes))
	}
	if pushes[0].kind != "user" || pushes[0].userID != f.alice.ID {
		t.Errorf("friendList push = %+v, want privately to alice", pushes[0])
	}
	friends, ok := pushes[0].data.([]models.User)
	if !ok {
		t.Fatalf("friendList payload type = %T", pushes[0].data)
	}
	if len(friends) != 1 || friends[0].ID != f.bob.ID {
		t.Errorf("friends = %+v, want just bob", friends)
	}
}

func TestSend_TaskThreadSkipsPreview(t *testing.T) {
	f := newPipelineFixture(t)

	proj := models.Project{Name: "apollo", OwnerID: f.alice.ID, Members: []models.User{f.alice}}
	f.db.Create(&proj)
	task := models.Task{ProjectID: proj.ID, Title: "ship"}
	f.db.Create(&task)

	d, err := room.Parse(fmt.Sprintf("task-%d-%d", proj.ID, task.ID))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	msg, err := f.pipeline.Send(f.aliceIdent(), SendEvent{
		Room: d, SenderID: f.alice.ID, Content: "comment",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.TaskConversationID == nil {
		t.Error("task send missing task conversation association")
	}
	if msg.ConversationID != nil {
		t.Error("task send has a direct conversation association")
	}
	if pushes := f.emitter.byEvent("friendList"); len(pushes) != 0 {
		t.Errorf("friendList pushes = %d, want 0 for task sends", len(pushes))
	}
}

func TestDelete_ByOwner(t *testing.T) {
	f := newPipelineFixture(t)
	d := f.directRoom(t)

	msg, err := f.pipeline.Send(f.aliceIdent(), SendEvent{
		Room: d, SenderID: f.alice.ID, Content: "oops",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if err := f.pipeline.Delete(f.aliceIdent(), msg.ID, d); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	var count int64
	f.db.Model(&models.Message{}).Count(&count)
	if count != 0 {
		t.Errorf("message rows = %d, want 0", count)
	}

	deletions := f.emitter.byEvent("messageDeleted")
	if len(deletions) != 1 {
		t.Fatalf("messageDeleted broadcasts = %d, want 1", len(deletions))
	}
	if id, ok := deletions[0].data.(uint); !ok || id != msg.ID {
		t.Errorf("deletion payload = %v, want message id %d", deletions[0].data, msg.ID)
	}
}

func TestDelete_NonOwnerForbidden(t *testing.T) {
	f := newPipelineFixture(t)
	d := f.directRoom(t)

	msg, err := f.pipeline.Send(f.aliceIdent(), SendEvent{
		Room: d, SenderID: f.alice.ID, Content: "mine",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	bobIdent := Identity{UserID: f.bob.ID, Username: f.bob.Username}
	err = f.pipeline.Delete(bobIdent, msg.ID, d)
	if !errors.Is(err, ErrNotOwner) {
		t.Fatalf("err = %v, want ErrNotOwner", err)
	}

	var count int64
	f.db.Model(&models.Message{}).Count(&count)
	if count != 1 {
		t.Errorf("message rows = %d, want 1 (row untouched)", count)
	}
	if len(f.emitter.byEvent("messageDeleted")) != 0 {
		t.Error("messageDeleted broadcast after forbidden delete")
	}
}

func TestDelete_NotFound(t *testing.T) {
	f := newPipelineFixture(t)
	d := f.directRoom(t)

	err := f.pipeline.Delete(f.aliceIdent(), 999, d)
	if !errors.Is(err, store.ErrMessageNotFound) {
		t.Fatalf("err = %v, want store.ErrMessageNotFound", err)
	}
}

func TestTyping_ExcludesTypist(t *testing.T) {
	f := newPipelineFixture(t)
	d := f.directRoom(t)

	if err := f.pipeline.Typing(f.aliceIdent(), d, true); err != nil {
		t.Fatalf("Typing: %v", err)
	}

	emits := f.emitter.byEvent("typing")
	if len(emits) != 1 {
		t.Fatalf("typing emissions = %d, want 1", len(emits))
	}
	if emits[0].kind != "roomExcept" || emits[0].exclude != f.alice.ID {
		t.Errorf("emission = %+v, want room-except-alice", emits[0])
	}
	payload, ok := emits[0].data.(TypingEvent)
	if !ok {
		t.Fatalf("payload type = %T", emits[0].data)
	}
	if payload.UserID != f.alice.ID || !payload.IsTyping {
		t.Errorf("payload = %+v", payload)
	}

	var count int64
	f.db.Model(&models.Message{}).Count(&count)
	if count != 0 {
		t.Errorf("typing persisted %d rows, want 0", count)
	}
}

func TestNewPipeline_Validation(t *testing.T) {
	if _, err := NewPipeline(PipelineOpts{}); err == nil {
		t.Error("expected error for missing store")
	}
}
