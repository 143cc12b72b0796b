package repositories

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"chat-engine/internal/models"
	"chat-engine/internal/observability"
)

// MemoryStore keeps every relation in process memory. Transactions take the
// writer lock and work on a copy that replaces the live state on commit.
type MemoryStore struct {
	memQueries
	mu    sync.RWMutex
	state *memState
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{state: newMemState()}
	s.memQueries = memQueries{store: s}
	return s
}

// WithTx runs fn against a private copy and publishes it only when fn succeeds.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(q Queries) error) (err error) {
	if err = ctx.Err(); err != nil {
		return err
	}
	started := time.Now()
	defer func() { observability.ObserveStoreTx("memory", started, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	draft := s.state.clone()
	if err = fn(memQueries{store: s, tx: draft}); err != nil {
		return err
	}
	s.state = draft
	return nil
}

type participantKey struct {
	conversationID int64
	userID         int64
}

type memState struct {
	conversations map[int64]models.Conversation
	dedup         map[string]int64
	participants  map[participantKey]models.Participant
	messages      map[int64]models.Message
	attachments   map[int64]models.Attachment
	users         map[int64]models.User
	lastConvID    int64
	lastMessageID int64
	lastAttachID  int64
}

func newMemState() *memState {
	return &memState{
		conversations: make(map[int64]models.Conversation),
		dedup:         make(map[string]int64),
		participants:  make(map[participantKey]models.Participant),
		messages:      make(map[int64]models.Message),
		attachments:   make(map[int64]models.Attachment),
		users:         make(map[int64]models.User),
	}
}

func (st *memState) clone() *memState {
	return &memState{
		conversations: cloneMap(st.conversations),
		dedup:         cloneMap(st.dedup),
		participants:  cloneMap(st.participants),
		messages:      cloneMap(st.messages),
		attachments:   cloneMap(st.attachments),
		users:         cloneMap(st.users),
		lastConvID:    st.lastConvID,
		lastMessageID: st.lastMessageID,
		lastAttachID:  st.lastAttachID,
	}
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type memQueries struct {
	store *MemoryStore
	tx    *memState
}

// view returns the state to operate on and the matching unlock func.
func (q memQueries) view(write bool) (*memState, func()) {
	if q.tx != nil {
		return q.tx, func() {}
	}
	if write {
		q.store.mu.Lock()
		return q.store.state, q.store.mu.Unlock
	}
	q.store.mu.RLock()
	return q.store.state, q.store.mu.RUnlock
}

func (q memQueries) CreateOrGetConversation(_ context.Context, conv models.Conversation) (models.Conversation, bool, error) {
	st, unlock := q.view(true)
	defer unlock()
	if conv.DedupKey != nil {
		if id, ok := st.dedup[*conv.DedupKey]; ok {
			return st.conversations[id], false, nil
		}
	}
	st.lastConvID++
	conv.ID = st.lastConvID
	st.conversations[conv.ID] = conv
	if conv.DedupKey != nil {
		st.dedup[*conv.DedupKey] = conv.ID
	}
	return conv, true, nil
}

func (q memQueries) GetConversation(_ context.Context, id int64) (models.Conversation, error) {
	st, unlock := q.view(false)
	defer unlock()
	conv, ok := st.conversations[id]
	if !ok {
		return models.Conversation{}, ErrNotFound
	}
	return conv, nil
}

func (q memQueries) LockConversation(ctx context.Context, id int64) (models.Conversation, error) {
	return q.GetConversation(ctx, id)
}

func (q memQueries) TouchConversation(_ context.Context, id int64, at time.Time) error {
	st, unlock := q.view(true)
	defer unlock()
	conv, ok := st.conversations[id]
	if !ok {
		return ErrNotFound
	}
	conv.LastMessageAt = lo.ToPtr(at)
	conv.UpdatedAt = at
	st.conversations[id] = conv
	return nil
}

func (q memQueries) SetConversationActive(_ context.Context, id int64, active bool, at time.Time) error {
	st, unlock := q.view(true)
	defer unlock()
	conv, ok := st.conversations[id]
	if !ok {
		return ErrNotFound
	}
	conv.IsActive = active
	conv.UpdatedAt = at
	st.conversations[id] = conv
	return nil
}

func (q memQueries) ListConversationsForUser(_ context.Context, userID int64, includeLeft bool) ([]models.Conversation, error) {
	st, unlock := q.view(false)
	defer unlock()
	var convs []models.Conversation
	for key, p := range st.participants {
		if key.userID != userID || (!includeLeft && !p.Active()) {
			continue
		}
		convs = append(convs, st.conversations[key.conversationID])
	}
	sort.Slice(convs, func(i, j int) bool {
		a, b := convs[i], convs[j]
		switch {
		case a.LastMessageAt != nil && b.LastMessageAt == nil:
			return true
		case a.LastMessageAt == nil && b.LastMessageAt != nil:
			return false
		case a.LastMessageAt != nil && !a.LastMessageAt.Equal(*b.LastMessageAt):
			return a.LastMessageAt.After(*b.LastMessageAt)
		case !a.CreatedAt.Equal(b.CreatedAt):
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
	return convs, nil
}

func (q memQueries) AddParticipant(_ context.Context, p models.Participant) (bool, error) {
	st, unlock := q.view(true)
	defer unlock()
	if _, ok := st.conversations[p.ConversationID]; !ok {
		return false, ErrNotFound
	}
	key := participantKey{p.ConversationID, p.UserID}
	if _, exists := st.participants[key]; exists {
		return false, nil
	}
	st.participants[key] = p
	return true, nil
}

func (q memQueries) RejoinParticipant(_ context.Context, conversationID, userID int64, at time.Time) error {
	return q.updateParticipant(conversationID, userID, func(p *models.Participant) {
		p.LeftAt = nil
		p.JoinedAt = at
	})
}

func (q memQueries) GetParticipant(_ context.Context, conversationID, userID int64) (models.Participant, error) {
	st, unlock := q.view(false)
	defer unlock()
	p, ok := st.participants[participantKey{conversationID, userID}]
	if !ok {
		return models.Participant{}, ErrNotFound
	}
	return p, nil
}

func (q memQueries) ListParticipants(_ context.Context, conversationID int64) ([]models.Participant, error) {
	st, unlock := q.view(false)
	defer unlock()
	var ps []models.Participant
	for key, p := range st.participants {
		if key.conversationID == conversationID {
			ps = append(ps, p)
		}
	}
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].JoinedAt.Equal(ps[j].JoinedAt) {
			return ps[i].JoinedAt.Before(ps[j].JoinedAt)
		}
		return ps[i].UserID < ps[j].UserID
	})
	return ps, nil
}

func (q memQueries) UpdateParticipantSettings(_ context.Context, conversationID, userID int64, s models.ParticipantSettings) error {
	return q.updateParticipant(conversationID, userID, func(p *models.Participant) {
		p.IsMuted = s.IsMuted
		p.IsArchived = s.IsArchived
		p.IsBlocked = s.IsBlocked
	})
}

func (q memQueries) MarkParticipantLeft(_ context.Context, conversationID, userID int64, at time.Time) error {
	return q.updateParticipant(conversationID, userID, func(p *models.Participant) {
		p.LeftAt = lo.ToPtr(at)
	})
}

func (q memQueries) AdvanceReadCursor(_ context.Context, conversationID, userID int64, at time.Time) (time.Time, error) {
	var cursor time.Time
	err := q.updateParticipant(conversationID, userID, func(p *models.Participant) {
		if p.LastReadAt == nil || at.After(*p.LastReadAt) {
			p.LastReadAt = lo.ToPtr(at)
		}
		cursor = *p.LastReadAt
	})
	return cursor, err
}

func (q memQueries) updateParticipant(conversationID, userID int64, mutate func(p *models.Participant)) error {
	st, unlock := q.view(true)
	defer unlock()
	key := participantKey{conversationID, userID}
	p, ok := st.participants[key]
	if !ok {
		return ErrNotFound
	}
	mutate(&p)
	st.participants[key] = p
	return nil
}

func (q memQueries) CreateMessage(_ context.Context, msg models.Message) (models.Message, error) {
	st, unlock := q.view(true)
	defer unlock()
	if _, ok := st.conversations[msg.ConversationID]; !ok {
		return models.Message{}, ErrNotFound
	}
	st.lastMessageID++
	msg.ID = st.lastMessageID
	msg.UpdatedAt = msg.CreatedAt
	if msg.Metadata == nil {
		msg.Metadata = models.Metadata{}
	}
	st.messages[msg.ID] = msg
	return msg, nil
}

func (q memQueries) GetMessage(_ context.Context, id int64) (models.Message, error) {
	st, unlock := q.view(false)
	defer unlock()
	msg, ok := st.messages[id]
	if !ok {
		return models.Message{}, ErrNotFound
	}
	return msg, nil
}

func (q memQueries) UpdateMessage(_ context.Context, msg models.Message) (models.Message, error) {
	st, unlock := q.view(true)
	defer unlock()
	stored, ok := st.messages[msg.ID]
	if !ok {
		return models.Message{}, ErrNotFound
	}
	stored.Content = msg.Content
	stored.Type = msg.Type
	stored.IsEdited = true
	stored.UpdatedAt = msg.UpdatedAt
	st.messages[msg.ID] = stored
	return stored, nil
}

func (q memQueries) SoftDeleteMessage(_ context.Context, id int64, at time.Time) error {
	st, unlock := q.view(true)
	defer unlock()
	msg, ok := st.messages[id]
	if !ok {
		return ErrNotFound
	}
	msg.IsDeleted = true
	msg.UpdatedAt = at
	st.messages[id] = msg
	return nil
}

func (q memQueries) ListRecentMessages(_ context.Context, conversationID int64, limit int) ([]models.Message, error) {
	st, unlock := q.view(false)
	defer unlock()
	msgs := st.visibleMessages(conversationID)
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (q memQueries) ListMessagesAfter(_ context.Context, conversationID, afterID int64, limit int) ([]models.Message, error) {
	st, unlock := q.view(false)
	defer unlock()
	msgs := st.visibleMessages(conversationID)
	if afterID > 0 {
		anchor, ok := st.messages[afterID]
		if !ok {
			return nil, nil
		}
		msgs = lo.Filter(msgs, func(m models.Message, _ int) bool {
			return messageBefore(anchor, m)
		})
	}
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

func (q memQueries) LatestMessage(_ context.Context, conversationID int64) (models.Message, error) {
	st, unlock := q.view(false)
	defer unlock()
	msgs := st.visibleMessages(conversationID)
	if len(msgs) == 0 {
		return models.Message{}, ErrNotFound
	}
	return msgs[len(msgs)-1], nil
}

func (q memQueries) MessagesCreatedAt(_ context.Context, conversationID int64, ids []int64) (map[int64]time.Time, error) {
	st, unlock := q.view(false)
	defer unlock()
	out := make(map[int64]time.Time, len(ids))
	for _, id := range ids {
		if msg, ok := st.messages[id]; ok && msg.ConversationID == conversationID {
			out[id] = msg.CreatedAt
		}
	}
	return out, nil
}

func (q memQueries) CountUnread(_ context.Context, conversationID, userID int64, since *time.Time) (int, error) {
	st, unlock := q.view(false)
	defer unlock()
	return lo.CountBy(st.visibleMessages(conversationID), func(m models.Message) bool {
		return m.SenderID != userID && (since == nil || m.CreatedAt.After(*since))
	}), nil
}

func (q memQueries) CountMessages(_ context.Context, filter MessageCount) (int, error) {
	st, unlock := q.view(false)
	defer unlock()
	count := 0
	for _, convID := range filter.ConversationIDs {
		count += lo.CountBy(st.visibleMessages(convID), func(m models.Message) bool {
			if filter.SenderID != nil && m.SenderID != *filter.SenderID {
				return false
			}
			return filter.ExcludeSenderID == nil || m.SenderID != *filter.ExcludeSenderID
		})
	}
	return count, nil
}

func (q memQueries) SearchMessages(_ context.Context, filter MessageFilter) ([]models.Message, error) {
	st, unlock := q.view(false)
	defer unlock()
	needle := strings.ToLower(filter.Query)
	convIDs := append([]int64(nil), filter.ConversationIDs...)
	sort.Slice(convIDs, func(i, j int) bool { return convIDs[i] < convIDs[j] })

	var out []models.Message
	for _, convID := range convIDs {
		for _, m := range st.visibleMessages(convID) {
			switch {
			case needle != "" && !strings.Contains(strings.ToLower(m.Content), needle):
			case filter.Type != nil && m.Type != *filter.Type:
			case filter.SenderID != nil && m.SenderID != *filter.SenderID:
			case filter.DateFrom != nil && m.CreatedAt.Before(*filter.DateFrom):
			case filter.DateTo != nil && m.CreatedAt.After(*filter.DateTo):
			case filter.HasImage != nil && (m.ImageRef != nil) != *filter.HasImage:
			default:
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func (q memQueries) CreateAttachment(_ context.Context, att models.Attachment) (models.Attachment, error) {
	st, unlock := q.view(true)
	defer unlock()
	if _, ok := st.messages[att.MessageID]; !ok {
		return models.Attachment{}, ErrNotFound
	}
	st.lastAttachID++
	att.ID = st.lastAttachID
	st.attachments[att.ID] = att
	return att, nil
}

func (q memQueries) ListAttachments(_ context.Context, messageIDs []int64) ([]models.Attachment, error) {
	st, unlock := q.view(false)
	defer unlock()
	wanted := lo.SliceToMap(messageIDs, func(id int64) (int64, struct{}) { return id, struct{}{} })
	atts := lo.Filter(lo.Values(st.attachments), func(a models.Attachment, _ int) bool {
		_, ok := wanted[a.MessageID]
		return ok
	})
	sort.Slice(atts, func(i, j int) bool { return atts[i].ID < atts[j].ID })
	return atts, nil
}

func (q memQueries) CreateUser(_ context.Context, u models.User) (models.User, bool, error) {
	st, unlock := q.view(true)
	defer unlock()
	if existing, ok := st.users[u.ID]; ok {
		return existing, false, nil
	}
	st.users[u.ID] = u
	return u, true, nil
}

func (q memQueries) GetUser(_ context.Context, id int64) (models.User, error) {
	st, unlock := q.view(false)
	defer unlock()
	u, ok := st.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return u, nil
}

func (q memQueries) ListUsers(_ context.Context, ids []int64) ([]models.User, error) {
	st, unlock := q.view(false)
	defer unlock()
	var users []models.User
	for _, id := range lo.Uniq(ids) {
		if u, ok := st.users[id]; ok {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// visibleMessages returns the non-deleted messages of a conversation ordered by (created_at, id).
func (st *memState) visibleMessages(conversationID int64) []models.Message {
	var msgs []models.Message
	for _, m := range st.messages {
		if m.ConversationID == conversationID && !m.IsDeleted {
			msgs = append(msgs, m)
		}
	}
	sort.Slice(msgs, func(i, j int) bool { return messageBefore(msgs[i], msgs[j]) })
	return msgs
}

func messageBefore(a, b models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

var _ Store = (*MemoryStore)(nil)
