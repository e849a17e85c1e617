package job

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/matryer/is"
)

func TestPlaygroundLink(t *testing.T) {
	is := is.New(t)

	link, err := playgroundLink(testCreds, "energy", time.Hour)
	is.NoErr(err)
	is.True(strings.HasPrefix(link, PlaygroundURL+"?"))

	u, err := url.Parse(link)
	is.NoErr(err)
	is.Equal(u.Query().Get("liveKitUrl"), testCreds.URL)

	v, err := auth.ParseAPIToken(u.Query().Get("token"))
	is.NoErr(err)
	grants, err := v.Verify(testCreds.APISecret)
	is.NoErr(err)
	is.True(strings.HasPrefix(grants.Identity, "guest-"))
	is.Equal(grants.Video.Room, "energy")
	is.True(grants.Video.RoomJoin)
}
