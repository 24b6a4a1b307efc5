package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clinic/clinic/internal/platform/docstore"
)

// notification is the payload built by notify_document_updated(). Change is
// set instead of Before and After when the images did not fit in the payload.
type notification struct {
	ID         string                 `json:"id"`
	Collection string                 `json:"collection"`
	DocumentID string                 `json:"document_id"`
	Version    int64                  `json:"version"`
	Before     map[string]interface{} `json:"before"`
	After      map[string]interface{} `json:"after"`
	Change     int64                  `json:"change"`
}

func decodeNotification(payload string) (notification, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return notification{}, fmt.Errorf("decode notification: %w", err)
	}
	return n, nil
}

func (n notification) event() docstore.ChangeEvent {
	ev := docstore.ChangeEvent{ID: n.ID, Collection: n.Collection, DocumentID: n.DocumentID}
	if n.Before != nil {
		ev.Before = &docstore.Document{ID: n.DocumentID, Fields: n.Before, Version: n.Version - 1}
	}
	if n.After != nil {
		ev.After = &docstore.Document{ID: n.DocumentID, Fields: n.After, Version: n.Version}
	}
	return ev
}

// loadChange fills the before and after images of a spilled notification
// from document_changes.
func (s *Store) loadChange(ctx context.Context, n *notification) error {
	var before, after []byte
	err := s.db.QueryRow(ctx,
		`SELECT before_data, after_data FROM document_changes WHERE seq = $1`, n.Change).Scan(&before, &after)
	if err != nil {
		return fmt.Errorf("load change %d: %w", n.Change, err)
	}
	if before != nil {
		if err := json.Unmarshal(before, &n.Before); err != nil {
			return fmt.Errorf("decode change %d: %w", n.Change, err)
		}
	}
	if after != nil {
		if err := json.Unmarshal(after, &n.After); err != nil {
			return fmt.Errorf("decode change %d: %w", n.Change, err)
		}
	}
	return nil
}

// Watch holds a dedicated connection in LISTEN mode and hands every update of
// collection to handler. The collection must be among those passed to
// EnsureSchema. A dropped connection is re-established after a short pause;
// NOTIFY payloads sent while disconnected are not replayed.
func (s *Store) Watch(ctx context.Context, collection string, handler docstore.EventHandler) error {
	for {
		err := s.listen(ctx, collection, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Error().Err(err).Str("collection", collection).Msg("document listener stopped, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (s *Store) listen(ctx context.Context, collection string, handler docstore.EventHandler) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("listen %s: %w", NotifyChannel, err)
	}
	s.logger.Info().Str("collection", collection).Msg("listening for document updates")

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		note, err := decodeNotification(n.Payload)
		if err != nil {
			s.logger.Error().Err(err).Msg("skipping undecodable notification")
			continue
		}
		if note.Collection != collection {
			continue
		}
		if note.Change != 0 {
			if err := s.loadChange(ctx, &note); err != nil {
				s.logger.Error().Err(err).Str("event_id", note.ID).Msg("skipping unresolvable notification")
				continue
			}
		}
		handler(ctx, note.event())
	}
}
