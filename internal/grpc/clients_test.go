package grpc

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"chat-engine/internal/chat"
)

type call struct {
	method string
	req    map[string]any
}

// fakeConn answers unary calls from a method-keyed table of responses.
type fakeConn struct {
	replies map[string]map[string]any
	errs    map[string]error
	calls   []call
}

func (f *fakeConn) Invoke(ctx context.Context, method string, args, reply any, _ ...grpc.CallOption) error {
	f.calls = append(f.calls, call{method: method, req: args.(*structpb.Struct).AsMap()})
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("missing deadline")
	}
	if err := f.errs[method]; err != nil {
		return err
	}
	out, err := structpb.NewStruct(f.replies[method])
	if err != nil {
		return err
	}
	reply.(*structpb.Struct).Fields = out.Fields
	return nil
}

func (f *fakeConn) NewStream(context.Context, *grpc.StreamDesc, string, ...grpc.CallOption) (grpc.ClientStream, error) {
	return nil, errors.New("not supported")
}

func TestAuthClientValidateToken(t *testing.T) {
	conn := &fakeConn{replies: map[string]map[string]any{
		validateTokenMethod: {"valid": true, "user_id": 7},
	}}
	client := NewAuthClient(conn, time.Second)

	userID, err := client.ValidateToken(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, int64(7), userID)
	assert.Equal(t, "tok", conn.calls[0].req["token"])

	conn.replies[validateTokenMethod] = map[string]any{"valid": false, "user_id": 7}
	_, err = client.ValidateToken(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthClientLookupUser(t *testing.T) {
	conn := &fakeConn{
		replies: map[string]map[string]any{
			getUserMethod: {"id": 9, "username": "bob", "display_name": "Bob B"},
		},
		errs: map[string]error{},
	}
	client := NewAuthClient(conn, time.Second)

	user, err := client.LookupUser(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, int64(9), user.ID)
	assert.Equal(t, "bob", user.Username)
	assert.Equal(t, "Bob B", user.DisplayName)
	assert.EqualValues(t, 9, conn.calls[0].req["user_id"])

	conn.errs[getUserMethod] = status.Error(codes.NotFound, "no such user")
	_, err = client.LookupUser(context.Background(), 10)
	assert.ErrorIs(t, err, chat.ErrUserNotFound)

	conn.errs[getUserMethod] = status.Error(codes.Unavailable, "down")
	_, err = client.LookupUser(context.Background(), 10)
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestCatalogClientLookupItem(t *testing.T) {
	conn := &fakeConn{
		replies: map[string]map[string]any{
			getItemMethod: {"id": 42, "owner_id": 2, "status": "active"},
		},
		errs: map[string]error{},
	}
	client := NewCatalogClient(conn, time.Second)

	item, err := client.LookupItem(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, chat.Item{OwnerID: 2, Status: "active"}, item)

	conn.replies[getItemMethod] = map[string]any{}
	_, err = client.LookupItem(context.Background(), 43)
	assert.ErrorIs(t, err, chat.ErrItemNotFound)

	conn.errs[getItemMethod] = status.Error(codes.NotFound, "gone")
	_, err = client.LookupItem(context.Background(), 44)
	assert.ErrorIs(t, err, chat.ErrItemNotFound)
}

func TestDialWarnsAboutStructContract(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	conn, err := Dial("localhost:1", logger)
	require.NoError(t, err)
	defer conn.Close()

	assert.Contains(t, buf.String(), "google.protobuf.Struct")
	assert.Contains(t, buf.String(), "addr=localhost:1")
}
