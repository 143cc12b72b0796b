// Package chat implements conversation, message and read-state operations on
// top of the entity store. Every mutation runs in a single store transaction;
// live fan-out and domain events are emitted only after commit.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"chat-engine/internal/apperr"
	"chat-engine/internal/models"
	"chat-engine/internal/repositories"
)

const (
	RecentLimit     = 50
	DefaultPageSize = 50
	MaxPageSize     = 200
	PreviewLength   = 100
)

// Domain event types emitted after commit.
const (
	EventConversationCreated = "conversation.created"
	EventConversationClosed  = "conversation.deactivated"
	EventParticipantAdded    = "participant.added"
	EventParticipantLeft     = "participant.left"
	EventMessageCreated      = "message.created"
	EventMessageEdited       = "message.edited"
	EventMessageDeleted      = "message.deleted"
	EventUserRegistered      = "user.registered"
)

// ItemStatusActive is the only catalog status that accepts new conversations.
const ItemStatusActive = "active"

var (
	// ErrItemNotFound is returned by a Catalog for unknown item ids.
	ErrItemNotFound = errors.New("item not found")
	// ErrUserNotFound is returned by a Directory for unknown user ids.
	ErrUserNotFound = errors.New("user not found")
)

// Item is the catalog view needed to open an item-linked conversation.
type Item struct {
	OwnerID int64
	Status  string
}

// Catalog resolves catalog items.
type Catalog interface {
	LookupItem(ctx context.Context, itemID int64) (Item, error)
}

// Directory resolves identities the local user table does not know yet.
type Directory interface {
	LookupUser(ctx context.Context, userID int64) (models.User, error)
}

// Broadcaster fans events out to live sessions of a conversation.
type Broadcaster interface {
	Publish(conversationID int64, event models.ChatEvent)
	// RemoveUser detaches every live session of userID from the conversation.
	RemoveUser(conversationID, userID int64)
}

// EventSink receives domain events. Implementations handle their own failures.
type EventSink interface {
	Emit(ctx context.Context, eventType string, payload any)
}

// URLResolver turns a stored blob reference into a fetchable URL.
type URLResolver interface {
	URL(ctx context.Context, ref string) (string, error)
}

// UserObserver is notified synchronously when a user is first stored.
type UserObserver interface {
	UserRegistered(ctx context.Context, event models.UserRegistered)
}

// Service is the entry point for every chat operation.
type Service struct {
	store     repositories.Store
	catalog   Catalog
	directory Directory
	hub       Broadcaster
	events    EventSink
	urls      URLResolver
	validate  *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
	order     *convLocks

	observersMu sync.RWMutex
	observers   []UserObserver
}

// Option configures a Service.
type Option func(*Service)

func WithCatalog(c Catalog) Option {
	return func(s *Service) { s.catalog = c }
}

func WithDirectory(d Directory) Option {
	return func(s *Service) { s.directory = d }
}

func WithBroadcaster(b Broadcaster) Option {
	return func(s *Service) { s.hub = b }
}

func WithEventSink(e EventSink) Option {
	return func(s *Service) { s.events = e }
}

func WithURLResolver(r URLResolver) Option {
	return func(s *Service) { s.urls = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a Service over store.
func NewService(store repositories.Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		hub:      nopBroadcaster{},
		events:   nopSink{},
		validate: newValidator(),
		logger:   slog.Default(),
		now:      time.Now,
		order:    newConvLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "chat")
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

type nopBroadcaster struct{}

func (nopBroadcaster) Publish(int64, models.ChatEvent) {}
func (nopBroadcaster) RemoveUser(int64, int64)         {}

// convLocks holds one mutex per conversation. Writers that fan out keep it from
// before their transaction until the hub has the event, so live sessions see
// events in commit order.
type convLocks struct {
	mu    sync.Mutex
	locks map[int64]*convLock
}

type convLock struct {
	mu   sync.Mutex
	refs int
}

func newConvLocks() *convLocks {
	return &convLocks{locks: make(map[int64]*convLock)}
}

// lock blocks until conversationID is free and returns its release func.
func (l *convLocks) lock(conversationID int64) func() {
	l.mu.Lock()
	cl, ok := l.locks[conversationID]
	if !ok {
		cl = &convLock{}
		l.locks[conversationID] = cl
	}
	cl.refs++
	l.mu.Unlock()

	cl.mu.Lock()
	return func() {
		cl.mu.Unlock()
		l.mu.Lock()
		cl.refs--
		if cl.refs == 0 {
			delete(l.locks, conversationID)
		}
		l.mu.Unlock()
	}
}

type nopSink struct{}

func (nopSink) Emit(context.Context, string, any) {}

// storeErr maps store sentinels onto the error taxonomy.
func storeErr(resource string, err error) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return apperr.NotFound(resource, err)
	}
	return fmt.Errorf("%s: %w", resource, err)
}

// newValidator reports fields by their json names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// validationErr flattens validator output into a single ValidationError.
func validationErr(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperr.Validation(err.Error())
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return apperr.Validation(fmt.Sprintf("%s is required", fe.Field()))
	case "max":
		return apperr.Validation(fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
	case "min", "gte":
		return apperr.Validation(fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param()))
	default:
		return apperr.Validation(fmt.Sprintf("%s is invalid", fe.Field()))
	}
}
