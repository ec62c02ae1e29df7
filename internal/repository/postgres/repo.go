package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/roomly/matchtalk/internal/domain"
	"github.com/roomly/matchtalk/internal/repository"
)

type Repository struct {
	DB *sql.DB
}

type queryable interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (r *Repository) getter(tx *sql.Tx) queryable {
	if tx != nil {
		return tx
	}
	return r.DB
}

// storeErr translates driver failures for the retry layer: integrity and
// data errors are permanent, everything else (connection drops, timeouts)
// is transient.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "23": // integrity_constraint_violation
			return domain.ErrConflict
		case "22": // data_exception
			return domain.ErrInvalidInput
		}
	}
	return domain.Transient(err)
}

func (r *Repository) GetMatch(ctx context.Context, tx *sql.Tx, matchID string) (*domain.Match, error) {
	q := r.getter(tx)

	m := &domain.Match{}
	var convID, initiatedBy sql.NullString
	var lastMessageAt sql.NullTime

	err := q.QueryRowContext(ctx, `
		SELECT id, participant_a, participant_b, created_at,
		       conversation_id, initiated_by, last_message_at
		FROM matches
		WHERE id = $1
	`, matchID).Scan(
		&m.ID, &m.ParticipantA, &m.ParticipantB, &m.CreatedAt,
		&convID, &initiatedBy, &lastMessageAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMatchNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}

	m.ConversationID = convID.String
	m.InitiatedBy = initiatedBy.String
	if lastMessageAt.Valid {
		t := lastMessageAt.Time
		m.LastMessageAt = &t
	}
	return m, nil
}

func (r *Repository) InsertMatch(ctx context.Context, tx *sql.Tx, m *domain.Match) error {
	q := r.getter(tx)
	_, err := q.ExecContext(ctx, `
		INSERT INTO matches (id, participant_a, participant_b, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, m.ID, m.ParticipantA, m.ParticipantB, m.CreatedAt)
	return storeErr(err)
}

func (r *Repository) CreateConversationIfAbsent(
	ctx context.Context,
	tx *sql.Tx,
	conv *domain.Conversation,
) (*domain.Conversation, bool, error) {

	q := r.getter(tx)

	out := &domain.Conversation{
		ID:           conv.ID,
		MatchID:      conv.MatchID,
		ParticipantA: conv.ParticipantA,
		ParticipantB: conv.ParticipantB,
	}

	// Conditional insert keyed on match_id. The uniqueness constraint is
	// the authority for the create race: losers get no row back and
	// re-read the winner's.
	err := q.QueryRowContext(ctx, `
		INSERT INTO conversations (id, match_id, participant_a, participant_b, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (match_id) DO NOTHING
		RETURNING created_at, updated_at
	`, conv.ID, conv.MatchID, conv.ParticipantA, conv.ParticipantB, conv.CreatedAt).Scan(
		&out.CreatedAt, &out.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		existing, rerr := r.GetConversationByMatch(ctx, tx, conv.MatchID)
		if rerr != nil {
			return nil, false, rerr
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, storeErr(err)
	}

	return out, true, nil
}

func (r *Repository) SetMatchConversation(
	ctx context.Context,
	tx *sql.Tx,
	matchID, conversationID, initiatorID string,
) (bool, error) {

	q := r.getter(tx)

	// Write-once: the guard on conversation_id keeps race losers and
	// replays from overwriting the winner.
	res, err := q.ExecContext(ctx, `
		UPDATE matches
		SET conversation_id = $2, initiated_by = $3
		WHERE id = $1 AND conversation_id IS NULL
	`, matchID, conversationID, initiatorID)
	if err != nil {
		return false, storeErr(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr(err)
	}
	return n == 1, nil
}

func (r *Repository) GetConversation(ctx context.Context, tx *sql.Tx, conversationID string) (*domain.Conversation, error) {
	return r.getConversation(ctx, tx, "id", conversationID)
}

func (r *Repository) GetConversationByMatch(ctx context.Context, tx *sql.Tx, matchID string) (*domain.Conversation, error) {
	return r.getConversation(ctx, tx, "match_id", matchID)
}

func (r *Repository) getConversation(ctx context.Context, tx *sql.Tx, col, val string) (*domain.Conversation, error) {
	q := r.getter(tx)

	c := &domain.Conversation{}
	err := q.QueryRowContext(ctx, `
		SELECT id, match_id, participant_a, participant_b, created_at, updated_at
		FROM conversations
		WHERE `+col+` = $1
	`, val).Scan(&c.ID, &c.MatchID, &c.ParticipantA, &c.ParticipantB, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrConversationNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return c, nil
}

func (r *Repository) InsertMessage(ctx context.Context, tx *sql.Tx, msg *domain.Message) error {
	q := r.getter(tx)

	var clientMsgID interface{}
	if msg.ClientMsgID != "" {
		clientMsgID = msg.ClientMsgID
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, client_msg_id, type, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, msg.ID, msg.ConversationID, msg.SenderID, clientMsgID, msg.Type, msg.Content, msg.CreatedAt)
	return storeErr(err)
}

func (r *Repository) GetMessage(ctx context.Context, tx *sql.Tx, messageID string) (*domain.Message, error) {
	q := r.getter(tx)

	m := &domain.Message{ReadReceipts: make(map[string]time.Time), Status: domain.StatusSent}
	var clientMsgID sql.NullString

	err := q.QueryRowContext(ctx, `
		SELECT id, conversation_id, sender_id, client_msg_id, type, content, created_at
		FROM messages
		WHERE id = $1
	`, messageID).Scan(&m.ID, &m.ConversationID, &m.SenderID, &clientMsgID, &m.Type, &m.Content, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	m.ClientMsgID = clientMsgID.String

	if err := r.loadReceipts(ctx, q, []*domain.Message{m}); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *Repository) GetMessageByClientID(ctx context.Context, tx *sql.Tx, conversationID, senderID, clientMsgID string) (*domain.Message, error) {
	q := r.getter(tx)

	m := &domain.Message{ReadReceipts: make(map[string]time.Time), Status: domain.StatusSent}
	var storedClientID sql.NullString

	err := q.QueryRowContext(ctx, `
		SELECT id, conversation_id, sender_id, client_msg_id, type, content, created_at
		FROM messages
		WHERE conversation_id = $1 AND sender_id = $2 AND client_msg_id = $3
	`, conversationID, senderID, clientMsgID).Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &storedClientID, &m.Type, &m.Content, &m.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	m.ClientMsgID = storedClientID.String

	if err := r.loadReceipts(ctx, q, []*domain.Message{m}); err != nil {
		return nil, err
	}
	return m, nil
}

func (r *Repository) MarkMessageDeleted(ctx context.Context, tx *sql.Tx, messageID string) error {
	q := r.getter(tx)

	res, err := q.ExecContext(ctx, `
		UPDATE messages
		SET content = $2, type = $3
		WHERE id = $1
	`, messageID, domain.DeletedMarker, domain.MessageTypeDeleted)
	if err != nil {
		return storeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(err)
	}
	if n == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}

func (r *Repository) MaxMessageTime(ctx context.Context, tx *sql.Tx, conversationID string) (time.Time, error) {
	q := r.getter(tx)

	var t sql.NullTime
	err := q.QueryRowContext(ctx, `
		SELECT max(created_at) FROM messages WHERE conversation_id = $1
	`, conversationID).Scan(&t)
	if err != nil {
		return time.Time{}, storeErr(err)
	}
	if !t.Valid {
		return time.Time{}, nil
	}
	return t.Time, nil
}

func (r *Repository) ListMessagesBefore(
	ctx context.Context,
	conversationID string,
	before *repository.Cursor,
	limit int,
) ([]*domain.Message, error) {

	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var rows *sql.Rows
	var err error

	// Keyset pagination over the (created_at, id) order, scanning
	// newest-first then reversed so the page reads oldest-first.
	if before != nil {
		rows, err = r.DB.QueryContext(ctx, `
			SELECT id, conversation_id, sender_id, client_msg_id, type, content, created_at
			FROM messages
			WHERE conversation_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4
		`, conversationID, before.CreatedAt, before.ID, limit)
	} else {
		rows, err = r.DB.QueryContext(ctx, `
			SELECT id, conversation_id, sender_id, client_msg_id, type, content, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		`, conversationID, limit)
	}
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var msgs []*domain.Message
	for rows.Next() {
		m := &domain.Message{ReadReceipts: make(map[string]time.Time), Status: domain.StatusSent}
		var clientMsgID sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &clientMsgID, &m.Type, &m.Content, &m.CreatedAt); err != nil {
			return nil, storeErr(err)
		}
		m.ClientMsgID = clientMsgID.String
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	if err := r.loadReceipts(ctx, r.DB, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *Repository) loadReceipts(ctx context.Context, q queryable, msgs []*domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	ids := make([]string, len(msgs))
	byID := make(map[string]*domain.Message, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
		byID[m.ID] = m
	}

	rows, err := q.QueryContext(ctx, `
		SELECT message_id, user_id, read_at
		FROM message_receipts
		WHERE message_id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return storeErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		var msgID, userID string
		var at time.Time
		if err := rows.Scan(&msgID, &userID, &at); err != nil {
			return storeErr(err)
		}
		if m, ok := byID[msgID]; ok {
			m.ReadReceipts[userID] = at
		}
	}
	return storeErr(rows.Err())
}

func (r *Repository) MarkMessagesRead(
	ctx context.Context,
	tx *sql.Tx,
	conversationID, userID string,
	upto *repository.Cursor,
	at time.Time,
) error {

	q := r.getter(tx)

	var err error
	if upto != nil {
		_, err = q.ExecContext(ctx, `
			INSERT INTO message_receipts (message_id, user_id, read_at)
			SELECT m.id, $2, $4
			FROM messages m
			WHERE m.conversation_id = $1
			  AND m.sender_id <> $2
			  AND (m.created_at, m.id) <= ($3, $5)
			ON CONFLICT (message_id, user_id)
			DO UPDATE SET read_at = GREATEST(message_receipts.read_at, EXCLUDED.read_at)
		`, conversationID, userID, upto.CreatedAt, at, upto.ID)
	} else {
		_, err = q.ExecContext(ctx, `
			INSERT INTO message_receipts (message_id, user_id, read_at)
			SELECT m.id, $2, $3
			FROM messages m
			WHERE m.conversation_id = $1
			  AND m.sender_id <> $2
			ON CONFLICT (message_id, user_id)
			DO UPDATE SET read_at = GREATEST(message_receipts.read_at, EXCLUDED.read_at)
		`, conversationID, userID, at)
	}
	return storeErr(err)
}

func (r *Repository) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `
		SELECT count(*)
		FROM messages m
		WHERE m.conversation_id = $1
		  AND m.sender_id <> $2
		  AND NOT EXISTS (
			SELECT 1 FROM message_receipts r
			WHERE r.message_id = m.id AND r.user_id = $2
		  )
	`, conversationID, userID).Scan(&n)
	if err != nil {
		return 0, storeErr(err)
	}
	return n, nil
}

func (r *Repository) TouchConversation(ctx context.Context, tx *sql.Tx, conversationID string, at time.Time) error {
	q := r.getter(tx)

	_, err := q.ExecContext(ctx, `
		UPDATE conversations SET updated_at = GREATEST(updated_at, $2) WHERE id = $1
	`, conversationID, at)
	if err != nil {
		return storeErr(err)
	}

	_, err = q.ExecContext(ctx, `
		UPDATE matches
		SET last_message_at = GREATEST(coalesce(last_message_at, 'epoch'::timestamptz), $2)
		WHERE conversation_id = $1
	`, conversationID, at)
	return storeErr(err)
}

func (r *Repository) InsertOutbox(ctx context.Context, tx *sql.Tx, aggregateType, aggregateID string, payload []byte) error {
	q := r.getter(tx)
	_, err := q.ExecContext(ctx, `
		INSERT INTO outbox (aggregate_type, aggregate_id, payload, created_at)
		VALUES ($1, $2, $3, now())
	`, aggregateType, aggregateID, payload)
	return storeErr(err)
}

func (r *Repository) FetchOutbox(ctx context.Context, limit int) ([]repository.OutboxRow, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, aggregate_type, aggregate_id, payload
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []repository.OutboxRow
	for rows.Next() {
		var row repository.OutboxRow
		if err := rows.Scan(&row.ID, &row.AggregateType, &row.AggregateID, &row.Payload); err != nil {
			return nil, storeErr(err)
		}
		out = append(out, row)
	}
	return out, storeErr(rows.Err())
}

func (r *Repository) MarkPublished(ctx context.Context, id int64) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE outbox SET published_at = now() WHERE id = $1
	`, id)
	return storeErr(err)
}
