package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/lattice/pkg/chunk"
	"github.com/latticehq/lattice/pkg/config"
	"github.com/latticehq/lattice/pkg/graph"
	"github.com/latticehq/lattice/pkg/modality"
	"github.com/latticehq/lattice/pkg/perf"
)

type fakeSlack struct {
	replies   []goslack.Message
	permalink string
	users     map[string]*goslack.User
	userCalls int
}

func (f *fakeSlack) GetConversationHistoryContext(context.Context, *goslack.GetConversationHistoryParameters) (*goslack.GetConversationHistoryResponse, error) {
	return &goslack.GetConversationHistoryResponse{}, nil
}

func (f *fakeSlack) GetConversationRepliesContext(context.Context, *goslack.GetConversationRepliesParameters) ([]goslack.Message, bool, string, error) {
	return f.replies, false, "", nil
}

func (f *fakeSlack) GetUserInfoContext(_ context.Context, user string) (*goslack.User, error) {
	f.userCalls++
	if u, ok := f.users[user]; ok {
		return u, nil
	}
	return nil, errors.New("user_not_found")
}

func (f *fakeSlack) GetPermalinkContext(context.Context, *goslack.PermalinkParameters) (string, error) {
	return f.permalink, nil
}

func testDeps(t *testing.T) modality.Deps {
	t.Helper()
	cfg := &config.Config{}
	cfg.Search.WorkspaceID = "acme"
	g, err := graph.NewService(cfg, perf.NewMonitor())
	require.NoError(t, err)
	store, err := modality.NewStateStore(t.TempDir())
	require.NoError(t, err)
	return modality.Deps{Config: cfg, Graph: g, State: store, Monitor: perf.NewMonitor()}
}

func slackUser(display string) *goslack.User {
	u := &goslack.User{}
	u.Profile.DisplayName = display
	return u
}

func TestBuildChunkHeaderAndMetadata(t *testing.T) {
	api := &fakeSlack{
		permalink: "https://acme.slack.com/archives/C123/p1724500000",
		users:     map[string]*goslack.User{"U1": slackUser("pat")},
	}
	h := NewWithAPI(testDeps(t), api)

	msg := goslack.Message{}
	msg.Text = "deploy failed on auth-service"
	msg.Timestamp = "1724500000.000100"
	msg.User = "U1"

	c := h.buildChunk(context.Background(), "C123", msg)

	assert.True(t, strings.HasPrefix(c.Text, "#C123 @pat ["))
	assert.Contains(t, c.Text, "deploy failed on auth-service")
	assert.Equal(t, "chat:C123:1724500000.000100", c.EntityID)
	assert.Equal(t, chunk.SourceChat, c.SourceType)
	assert.Equal(t, []string{"chat", "C123"}, c.Tags)
	assert.Equal(t, "C123", c.Metadata["channel_id"])
	assert.Equal(t, api.permalink, c.Metadata["permalink"])
	assert.Equal(t, "acme", c.Metadata[chunk.MetaWorkspaceID])
	assert.Equal(t, time.Unix(1724500000, 0).Unix(), c.Timestamp.Unix())
}

func TestBuildChunkFoldsThreadReplies(t *testing.T) {
	root := goslack.Message{}
	root.Text = "is the API down?"
	root.Timestamp = "100.0"
	root.ThreadTimestamp = "100.0"
	root.User = "U1"

	reply := goslack.Message{}
	reply.Text = "yes, rolling back"
	reply.Timestamp = "101.0"
	reply.User = "U2"

	api := &fakeSlack{
		replies: []goslack.Message{root, reply},
		users: map[string]*goslack.User{
			"U1": slackUser("pat"),
			"U2": slackUser("sam"),
		},
	}
	h := NewWithAPI(testDeps(t), api)

	c := h.buildChunk(context.Background(), "C9", root)
	assert.Contains(t, c.Text, "↳ @sam: yes, rolling back")
	// The root itself must not be duplicated as a reply line.
	assert.Equal(t, 1, strings.Count(c.Text, "is the API down?"))
	assert.Equal(t, "100.0", c.Metadata["thread_ts"])
}

func TestUserNameCachedAndFallsBackToID(t *testing.T) {
	api := &fakeSlack{users: map[string]*goslack.User{"U1": slackUser("pat")}}
	h := NewWithAPI(testDeps(t), api)
	ctx := context.Background()

	assert.Equal(t, "pat", h.userName(ctx, "U1"))
	assert.Equal(t, "pat", h.userName(ctx, "U1"))
	assert.Equal(t, 1, api.userCalls)

	// Unknown users resolve to the raw ID, also cached.
	assert.Equal(t, "U404", h.userName(ctx, "U404"))
	assert.Equal(t, "unknown", h.userName(ctx, ""))
}

func TestParseSlackTS(t *testing.T) {
	ts := parseSlackTS("1724500000.500000")
	assert.Equal(t, int64(1724500000), ts.Unix())
	assert.True(t, parseSlackTS("garbage").IsZero())
}

func TestQueryOnlyWithoutToken(t *testing.T) {
	h := New(testDeps(t), "")
	assert.False(t, h.CanIngest())
	assert.True(t, h.CanQuery())
	assert.Equal(t, "chat", h.ModalityID())
}
