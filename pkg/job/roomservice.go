package job

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go"
)

// RoomService is the part of the LiveKit room API used to find or create the
// room before joining it.
type RoomService interface {
	CreateRoom(ctx context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error)
	ListRooms(ctx context.Context, req *livekit.ListRoomsRequest) (*livekit.ListRoomsResponse, error)
}

// NewRoomService returns the LiveKit room service client for creds.
func NewRoomService(creds Credentials) RoomService {
	return lksdk.NewRoomServiceClient(httpURL(creds.URL), creds.APIKey, creds.APISecret)
}

// httpURL maps a websocket signalling URL to the matching API URL.
func httpURL(u string) string {
	switch {
	case strings.HasPrefix(u, "wss://"):
		return "https://" + strings.TrimPrefix(u, "wss://")
	case strings.HasPrefix(u, "ws://"):
		return "http://" + strings.TrimPrefix(u, "ws://")
	default:
		return u
	}
}

// resolveRoom returns the name of the room to join. An empty id with
// allowCreate set yields a freshly named room.
func resolveRoom(ctx context.Context, svc RoomService, opts RoomOptions) (string, error) {
	id := opts.RoomID
	if id == "" {
		if !opts.AllowCreate {
			return "", ErrNoRoom
		}
		id = RoomPrefix + uuid.NewString()
	}

	if opts.AllowCreate {
		// CreateRoom returns the existing room when the name is taken.
		room, err := svc.CreateRoom(ctx, &livekit.CreateRoomRequest{Name: id})
		if err != nil {
			return "", fmt.Errorf("create room %q: %w", id, err)
		}
		return room.GetName(), nil
	}

	resp, err := svc.ListRooms(ctx, &livekit.ListRoomsRequest{Names: []string{id}})
	if err != nil {
		return "", fmt.Errorf("list rooms: %w", err)
	}
	for _, r := range resp.GetRooms() {
		if r.GetName() == id {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrRoomNotFound, id)
}

func shortID() string {
	return uuid.NewString()[:8]
}
