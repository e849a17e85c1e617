package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go"
	"github.com/matryer/is"
)

// fakeRoomService is an in-memory room service.
type fakeRoomService struct {
	mu      sync.Mutex
	rooms   map[string]bool
	created []string
	err     error
}

func newFakeRoomService(rooms ...string) *fakeRoomService {
	svc := &fakeRoomService{rooms: make(map[string]bool)}
	for _, r := range rooms {
		svc.rooms[r] = true
	}
	return svc
}

func (f *fakeRoomService) CreateRoom(ctx context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, req.Name)
	f.rooms[req.Name] = true
	return &livekit.Room{Name: req.Name, Sid: "RM_" + req.Name}, nil
}

func (f *fakeRoomService) ListRooms(ctx context.Context, req *livekit.ListRoomsRequest) (*livekit.ListRoomsResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	resp := &livekit.ListRoomsResponse{}
	for _, name := range req.Names {
		if f.rooms[name] {
			resp.Rooms = append(resp.Rooms, &livekit.Room{Name: name})
		}
	}
	return resp, nil
}

var testCreds = Credentials{
	URL:       "wss://agents.livekit.cloud",
	APIKey:    "APIkey",
	APISecret: "a-secret-that-is-long-enough-for-hmac",
}

// dialRecorder captures the dial arguments and fails the dial.
type dialRecorder struct {
	url, token string
}

var errDial = errors.New("signal connection refused")

func (d *dialRecorder) dial(url, token string, cb *lksdk.RoomCallback) (*lksdk.Room, error) {
	d.url, d.token = url, token
	return nil, errDial
}

func TestResolveRoom(t *testing.T) {
	tests := []struct {
		name      string
		existing  []string
		opts      RoomOptions
		want      string
		wantErr   error
		wantNewID bool
	}{
		{name: "join existing", existing: []string{"energy"}, opts: RoomOptions{RoomID: "energy"}, want: "energy"},
		{name: "missing without create", opts: RoomOptions{RoomID: "energy"}, wantErr: ErrRoomNotFound},
		{name: "create named", opts: RoomOptions{RoomID: "energy", AllowCreate: true}, want: "energy"},
		{name: "create fresh", opts: RoomOptions{AllowCreate: true}, wantNewID: true},
		{name: "no id no create", opts: RoomOptions{}, wantErr: ErrNoRoom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			svc := newFakeRoomService(tt.existing...)

			got, err := resolveRoom(context.Background(), svc, tt.opts)
			if tt.wantErr != nil {
				is.True(errors.Is(err, tt.wantErr))
				return
			}
			is.NoErr(err)
			if tt.wantNewID {
				is.True(len(got) > len(RoomPrefix))
				is.Equal(got[:len(RoomPrefix)], RoomPrefix)
				is.Equal(svc.created, []string{got})
				return
			}
			is.Equal(got, tt.want)
		})
	}
}

func TestConnect_MissingCredentials(t *testing.T) {
	is := is.New(t)
	c := New(Config{Room: RoomOptions{AllowCreate: true}}, WithRoomService(newFakeRoomService()))

	err := c.Connect(context.Background())
	is.True(errors.Is(err, ErrMissingCredentials))
	is.NoErr(c.Shutdown(context.Background())) // shutdown still releases
}

func TestConnect_RoomServiceError(t *testing.T) {
	is := is.New(t)
	svc := newFakeRoomService()
	svc.err = errors.New("unauthorized")
	c := New(Config{Credentials: testCreds, Room: RoomOptions{RoomID: "energy", AllowCreate: true}}, WithRoomService(svc))

	err := c.Connect(context.Background())
	is.True(errors.Is(err, svc.err))
	is.Equal(c.RoomName(), "")
}

func TestConnect_SignsAgentToken(t *testing.T) {
	is := is.New(t)
	d := &dialRecorder{}
	c := New(Config{
		Credentials: testCreds,
		Room:        RoomOptions{Name: "Energy consultant", RoomID: "energy", AllowCreate: true},
		Identity:    "agent-1",
	}, WithRoomService(newFakeRoomService()))
	c.dial = d.dial

	err := c.Connect(context.Background())
	is.True(errors.Is(err, errDial))
	is.Equal(d.url, testCreds.URL)

	v, err := auth.ParseAPIToken(d.token)
	is.NoErr(err)
	grants, err := v.Verify(testCreds.APISecret)
	is.NoErr(err)
	is.Equal(grants.Identity, "agent-1")
	is.Equal(grants.Name, "Energy consultant")
	is.True(grants.Video.RoomJoin)
	is.Equal(grants.Video.Room, "energy")
}

func TestShutdown_WithoutConnect(t *testing.T) {
	is := is.New(t)
	c := New(Config{Credentials: testCreds}, WithRoomService(newFakeRoomService()))

	is.NoErr(c.Shutdown(context.Background()))
	is.NoErr(c.Shutdown(context.Background()))

	_, ok := <-c.MicIn()
	is.True(!ok) // mic closed by shutdown
	_, ok = <-c.Room().Events()
	is.True(!ok)
	is.True(errors.Is(c.Connect(context.Background()), ErrShutdown))
}

func TestShutdown_PlaysOutQueuedSpeech(t *testing.T) {
	is := is.New(t)
	c := New(Config{Credentials: testCreds}, WithRoomService(newFakeRoomService()))
	p, err := newSpeakerProvider(c.speaker)
	is.NoErr(err)
	is.NoErr(p.OnBind())
	c.provider = p

	// a farewell queued just before teardown
	for i := 0; i < 8; i++ {
		c.SpeakerOut() <- voiced()
	}
	played := consume(p)

	is.NoErr(c.Shutdown(context.Background()))
	is.Equal(<-played, 8) // every frame left before the track closed
	is.Equal(len(c.speaker), 0)
}

func TestContext_ReportsLostRoom(t *testing.T) {
	is := is.New(t)
	c := New(Config{Credentials: testCreds, Room: "energy"}, WithRoomService(newFakeRoomService()))
	is.NoErr(c.Err())

	c.Room().disconnected()

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after the room dropped")
	}
	is.True(errors.Is(c.Err(), ErrDisconnected))
	is.NoErr(c.Shutdown(context.Background()))
}

func TestContext_ShutdownIsNotALoss(t *testing.T) {
	is := is.New(t)
	c := New(Config{Credentials: testCreds}, WithRoomService(newFakeRoomService()))

	is.NoErr(c.Shutdown(context.Background()))
	c.Room().disconnected() // the SDK callback after our own disconnect

	select {
	case <-c.Done():
		t.Fatal("Done closed by a requested shutdown")
	default:
	}
	is.NoErr(c.Err())
}

func TestShutdown_Hooks(t *testing.T) {
	is := is.New(t)
	c := New(Config{Credentials: testCreds}, WithRoomService(newFakeRoomService()))

	var mu sync.Mutex
	var ran []string
	record := func(name string) {
		mu.Lock()
		ran = append(ran, name)
		mu.Unlock()
	}
	hookErr := errors.New("metrics server did not stop")
	c.OnShutdown(func(context.Context) error { record("ok"); return nil })
	c.OnShutdown(func(context.Context) error { record("fail"); return hookErr })
	c.OnShutdown(func(context.Context) error { record("panic"); panic("boom") })

	err := c.Shutdown(context.Background())
	is.True(errors.Is(err, hookErr))
	is.Equal(len(ran), 3)

	// a hook registered late runs at once
	c.OnShutdown(func(context.Context) error { record("late"); return nil })
	is.Equal(len(ran), 4)

	// the first result is kept
	is.True(errors.Is(c.Shutdown(context.Background()), hookErr))
}

func TestShutdown_HookTimeout(t *testing.T) {
	is := is.New(t)
	c := New(Config{Credentials: testCreds}, WithRoomService(newFakeRoomService()))
	c.OnShutdown(func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(time.Second)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := c.Shutdown(ctx)
	is.True(errors.Is(err, context.DeadlineExceeded))
	is.True(time.Since(start) < 500*time.Millisecond)
}

func TestNew_Defaults(t *testing.T) {
	is := is.New(t)
	c := New(Config{Credentials: testCreds}, WithRoomService(newFakeRoomService()))

	is.Equal(c.cfg.TokenTTL, DefaultTokenTTL)
	is.Equal(cap(c.room.mic), DefaultMicBuffer)
	is.Equal(cap(c.speaker), DefaultSpeakerBuffer)
	is.True(len(c.Identity()) > len(RoomPrefix))
}

func TestHTTPURL(t *testing.T) {
	tests := map[string]string{
		"wss://x.livekit.cloud": "https://x.livekit.cloud",
		"ws://localhost:7880":   "http://localhost:7880",
		"https://x":             "https://x",
	}
	for in, want := range tests {
		if got := httpURL(in); got != want {
			t.Errorf("httpURL(%q) = %q, want %q", in, got, want)
		}
	}
}
