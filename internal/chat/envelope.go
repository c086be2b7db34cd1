package chat

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FileEnvelope is the structured form a message's content takes when a file
// is attached. It is serialized into the message's content column and onto
// the wire; everywhere else the tagged Body form is used.
type FileEnvelope struct {
	Type     string `json:"type"` // always "FILE"
	FileType string `json:"fileType"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	Data     string `json:"data"` // base64 payload
	Text     string `json:"text"` // accompanying text, may be empty
}

// Body is message content as a tagged union: plain text, or a file envelope
// with optional accompanying text. File != nil wins.
type Body struct {
	Text string
	File *FileEnvelope
}

// TextBody wraps plain text.
func TextBody(text string) Body {
	return Body{Text: text}
}

// FileBody builds a file-bearing body.
func FileBody(fileType, fileName string, fileSize int64, data, text string) Body {
	return Body{File: &FileEnvelope{
		Type:     "FILE",
		FileType: fileType,
		FileName: fileName,
		FileSize: fileSize,
		Data:     data,
		Text:     text,
	}}
}

// Encode serializes the body to the content column format: the raw text for
// plain messages, the JSON envelope for file messages.
func (b Body) Encode() (string, error) {
	if b.File == nil {
		return b.Text, nil
	}
	data, err := json.Marshal(b.File)
	if err != nil {
		return "", fmt.Errorf("chat: encode file envelope: %w", err)
	}
	return string(data), nil
}

// ParseBody decodes a content column value back into a Body. Content that
// does not look like a file envelope is treated as plain text.
func ParseBody(content string) Body {
	if !strings.HasPrefix(content, "{") {
		return Body{Text: content}
	}
	var env FileEnvelope
	if err := json.Unmarshal([]byte(content), &env); err != nil || env.Type != "FILE" {
		return Body{Text: content}
	}
	return Body{File: &env}
}

// Preview returns a human-readable preview of the body, truncated to max
// runes for the conversation's cached last-message field.
func (b Body) Preview(max int) string {
	text := b.Text
	if b.File != nil {
		text = b.File.Text
		if text == "" {
			text = b.File.FileName
		}
	}
	runes := []rune(text)
	if max > 0 && len(runes) > max {
		return string(runes[:max]) + "..."
	}
	return text
}
