package job

import (
	"net/url"
	"time"

	"github.com/livekit/protocol/auth"
)

// accessToken signs a room-join token for identity.
func accessToken(creds Credentials, room, identity, name string, ttl time.Duration) (string, error) {
	at := auth.NewAccessToken(creds.APIKey, creds.APISecret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     room,
	}
	at.AddGrant(grant).
		SetIdentity(identity).
		SetName(name).
		SetValidFor(ttl)
	return at.ToJWT()
}

// playgroundLink returns a meet.livekit.io link that joins room as a guest.
func playgroundLink(creds Credentials, room string, ttl time.Duration) (string, error) {
	token, err := accessToken(creds, room, "guest-"+shortID(), "Guest", ttl)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("liveKitUrl", creds.URL)
	q.Set("token", token)
	return PlaygroundURL + "?" + q.Encode(), nil
}
