package inbox

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// DirSource reads inbound messages from a drop directory. A mail forwarding
// hook writes one JSON file per message; files whose modification time falls
// inside the poll window are picked up. The expected shape:
//
//	{"message_id": "...", "from": "...", "subject": "...", "received_at": "RFC3339"}
type DirSource struct {
	dir string
}

// NewDirSource returns a source over the given drop directory.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

type inboundFile struct {
	MessageID  string    `json:"message_id"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	ReceivedAt time.Time `json:"received_at"`
}

// FetchMessages returns messages from files modified after since. Unreadable
// or malformed files are logged and skipped so one bad drop cannot wedge the
// poll loop.
func (s *DirSource) FetchMessages(ctx context.Context, since time.Time) ([]InboundMessage, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, eris.Wrapf(err, "inbox: read drop dir %s", s.dir)
	}

	var messages []InboundMessage
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		info, err := entry.Info()
		if err != nil || !info.ModTime().After(since) {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			zap.L().Warn("inbox: unreadable drop file", zap.String("path", path), zap.Error(err))
			continue
		}

		var f inboundFile
		if err := json.Unmarshal(raw, &f); err != nil || f.From == "" {
			zap.L().Warn("inbox: malformed drop file", zap.String("path", path), zap.Error(err))
			continue
		}

		receivedAt := f.ReceivedAt
		if receivedAt.IsZero() {
			receivedAt = info.ModTime()
		}
		messages = append(messages, InboundMessage{
			MessageID:  f.MessageID,
			From:       f.From,
			Subject:    f.Subject,
			ReceivedAt: receivedAt,
		})
	}
	return messages, nil
}
